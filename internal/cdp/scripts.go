package cdp

// Scripts run in the page's top-level window. Elements in same-origin frames,
// nested ones included, are reached through contentDocument.

const documentsJS = `
const __aaDocuments = () => {
  const maxFrameDepth = 8;
  const docs = [];
  const visited = new Set();
  const walk = (doc, depth) => {
    if (!doc || visited.has(doc)) return;
    visited.add(doc);
    docs.push(doc);
    if (depth >= maxFrameDepth) return;
    for (const frame of doc.querySelectorAll('iframe, frame')) {
      let child = null;
      try {
        child = frame.contentDocument;
      } catch (e) {}
      walk(child, depth + 1);
    }
  };
  walk(document, 0);
  return docs;
};
const __aaSignalState = () => window.__aaSignals || (window.__aaSignals = { lastPointerDown: 0, summaryClicked: false, installed: false });
`

const queryScript = `(selectors, maxDepth, maxSiblings) => {` + documentsJS + `
  const textLimit = 8000;
  window.__aaRefSeq = window.__aaRefSeq || 0;
  const refOf = (el) => {
    if (!el.dataset.aaRef) el.dataset.aaRef = 'n' + (++window.__aaRefSeq);
    return el.dataset.aaRef;
  };
  const snap = (el, withRef) => {
    const view = el.ownerDocument.defaultView || window;
    const style = view.getComputedStyle(el);
    const rect = el.getBoundingClientRect();
    const attrs = {};
    for (const name of ['aria-label', 'title', 'role', 'class', 'id', 'aria-selected']) {
      const value = el.getAttribute(name);
      if (value) attrs[name] = value;
    }
    return {
      ref: withRef ? refOf(el) : '',
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.textContent || '').trim().slice(0, textLimit),
      attrs,
      rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
      style: { display: style.display, visibility: style.visibility, pointerEvents: style.pointerEvents, opacity: style.opacity },
      disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
    };
  };
  const codeBlocks = (el) => Array.from(el.querySelectorAll('pre, code')).slice(0, 20).map((b) => snap(b, false));
  const neighborhood = (el) => {
    let node = snap(el, true);
    const ref = node.ref;
    let current = el;
    for (let depth = 0; depth < maxDepth && current.parentElement; depth++) {
      const parent = current.parentElement;
      const wrapper = snap(parent, false);
      wrapper.text = '';
      const siblings = [];
      let sibling = current.previousElementSibling;
      for (let i = 0; sibling && i < maxSiblings; i++, sibling = sibling.previousElementSibling) {
        const s = snap(sibling, false);
        s.children = codeBlocks(sibling);
        siblings.unshift(s);
      }
      wrapper.children = siblings.concat([node]);
      node = wrapper;
      current = parent;
    }
    return { root: node, ref };
  };
  const seen = new Set();
  const out = [];
  for (const doc of __aaDocuments()) {
    for (const selector of selectors) {
      let found = [];
      try {
        found = doc.querySelectorAll(selector);
      } catch (e) {
        continue;
      }
      for (const el of found) {
        if (seen.has(el)) continue;
        seen.add(el);
        out.push(neighborhood(el));
      }
    }
  }
  return out;
}`

const activateScript = `(ref) => {` + documentsJS + `
  for (const doc of __aaDocuments()) {
    const el = doc.querySelector('[data-aa-ref="' + ref + '"]');
    if (el) {
      el.click();
      return true;
    }
  }
  return false;
}`

const signalsScript = `() => {` + documentsJS + `
  const state = __aaSignalState();
  if (!state.installed) {
    state.installed = true;
    for (const doc of __aaDocuments()) {
      doc.addEventListener('pointerdown', (e) => {
        if (e.isTrusted) state.lastPointerDown = Date.now();
      }, true);
    }
  }
  const out = {
    lastPointerDown: new Date(state.lastPointerDown || -62135596800000).toISOString(),
    summaryClicked: state.summaryClicked,
    focused: document.hasFocus(),
  };
  state.summaryClicked = false;
  return out;
}`

const mountScript = `(m) => {` + documentsJS + `
  if (m.styleId && !document.getElementById(m.styleId)) {
    const style = document.createElement('style');
    style.id = m.styleId;
    style.textContent = m.css;
    document.head.appendChild(style);
  }
  if (document.getElementById(m.id)) return true;
  const el = document.createElement('div');
  el.id = m.id;
  el.innerHTML = m.html;
  document.body.appendChild(el);
  el.dataset.aaStyle = m.styleId || '';
  const anchors = m.anchor || [];
  const findAnchor = () => {
    for (const selector of anchors) {
      try {
        const found = document.querySelector(selector);
        if (found) return found;
      } catch (e) {}
    }
    return null;
  };
  const place = () => {
    el.style.position = 'fixed';
    const anchor = findAnchor();
    if (!anchor) return;
    const rect = anchor.getBoundingClientRect();
    el.style.top = rect.top + 'px';
    el.style.left = rect.left + 'px';
    el.style.width = rect.width + 'px';
  };
  place();
  const anchor = findAnchor();
  if (anchor && typeof ResizeObserver === 'function') {
    el.__aaObserver = new ResizeObserver(place);
    el.__aaObserver.observe(anchor);
    el.__aaResize = place;
    window.addEventListener('resize', place);
  } else if (anchors.length) {
    // No observer or the panel is not rendered yet: poll for it.
    el.__aaPlacer = setInterval(place, 1000);
  }
  if (m.action) {
    el.addEventListener('click', (e) => {
      if (e.target && e.target.closest && e.target.closest('#' + CSS.escape(m.action))) {
        __aaSignalState().summaryClicked = true;
      }
    });
  }
  return true;
}`

const setContentScript = `(id, html) => {
  const el = document.getElementById(id);
  if (!el) return false;
  if (el.innerHTML !== html) el.innerHTML = html;
  return true;
}`

const unmountScript = `(id) => {
  const el = document.getElementById(id);
  if (!el) return true;
  if (el.__aaObserver) el.__aaObserver.disconnect();
  if (el.__aaResize) window.removeEventListener('resize', el.__aaResize);
  if (el.__aaPlacer) clearInterval(el.__aaPlacer);
  const styleId = el.dataset.aaStyle;
  el.remove();
  if (styleId) {
    const style = document.getElementById(styleId);
    if (style) style.remove();
  }
  return true;
}`
