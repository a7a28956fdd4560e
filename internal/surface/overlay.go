package surface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	ProgressOverlayID = "__autoAcceptBgOverlay"
	SummaryWidgetID   = "__autoAcceptSummaryWidget"
	SummaryButtonID   = "__autoAcceptSummaryButton"

	progressStyleID = "__autoAcceptBgStyles"
	summaryStyleID  = "__autoAcceptSummaryStyles"
)

const progressCSS = `
#__autoAcceptBgOverlay { position: fixed; z-index: 2147483647; display: flex; align-items: center; justify-content: center;
  background: rgba(8, 8, 12, 0.96); color: #f2f2f2; pointer-events: none; font: 13px system-ui, sans-serif; overflow: hidden; }
#__autoAcceptBgOverlay .aa-list { width: 90%; max-width: 420px; display: flex; flex-direction: column; gap: 12px; }
#__autoAcceptBgOverlay .aa-row { padding: 10px 14px; border-radius: 8px; border: 1px solid rgba(255, 255, 255, 0.08); }
#__autoAcceptBgOverlay .aa-head { display: flex; gap: 8px; align-items: center; margin-bottom: 6px; }
#__autoAcceptBgOverlay .aa-name { flex: 1; white-space: nowrap; overflow: hidden; text-overflow: ellipsis; }
#__autoAcceptBgOverlay .aa-badge { font-size: 10px; font-weight: 600; text-transform: uppercase; padding: 2px 8px; border-radius: 4px; }
#__autoAcceptBgOverlay .aa-bar { height: 4px; border-radius: 2px; background: rgba(255, 255, 255, 0.08); }
#__autoAcceptBgOverlay .aa-fill { height: 100%; border-radius: 2px; }
#__autoAcceptBgOverlay .in-progress .aa-badge { color: #c084fc; background: rgba(192, 132, 252, 0.15); }
#__autoAcceptBgOverlay .in-progress .aa-fill { width: 60%; background: #a855f7; }
#__autoAcceptBgOverlay .completed .aa-badge { color: #4ade80; background: rgba(74, 222, 128, 0.15); }
#__autoAcceptBgOverlay .completed .aa-fill { width: 100%; background: #22c55e; }
#__autoAcceptBgOverlay .with-errors .aa-badge { color: #fbbf24; background: rgba(251, 191, 36, 0.15); }
`

const summaryCSS = `
#__autoAcceptSummaryWidget { position: fixed; z-index: 2147483646; width: 340px; max-height: 60vh; padding: 12px;
  border-radius: 10px; border: 1px solid rgba(255, 255, 255, 0.14); background: rgba(12, 12, 16, 0.96); color: #f6f6f6;
  display: flex; flex-direction: column; gap: 8px; font: 12px system-ui, sans-serif; }
#__autoAcceptSummaryWidget .aa-title { font-weight: 600; }
#__autoAcceptSummaryButton { height: 30px; border: 0; border-radius: 6px; background: #2563eb; color: #fff; cursor: pointer; font-weight: 600; }
#__autoAcceptSummaryButton[disabled] { opacity: 0.6; cursor: default; }
#__autoAcceptSummaryWidget .aa-status { font-size: 11px; min-height: 15px; opacity: 0.8; }
#__autoAcceptSummaryWidget .error .aa-status { color: #fca5a5; }
#__autoAcceptSummaryWidget .aa-body { line-height: 1.45; overflow: auto; max-height: 42vh; }
`

// Renderer renders automation state into the surface. Mounting is idempotent
// and dismounting removes markup, styles and anchoring observers.
type Renderer struct {
	doc      dom.Document
	markdown goldmark.Markdown

	mu       sync.Mutex
	progress []string
	widget   []string
	rows     int
	mounted  map[string]bool
}

// NewRenderer constructs a renderer over doc.
func NewRenderer(doc dom.Document) *Renderer {
	return &Renderer{
		doc:      doc,
		markdown: goldmark.New(),
		mounted:  map[string]bool{},
	}
}

// MountProgress installs the background progress panel anchored to the assistant panel.
func (r *Renderer) MountProgress(ctx context.Context, anchor []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = anchor
	return r.mountLocked(ctx, r.progressMount(nil))
}

// RenderTabs writes one row per tab into the progress panel.
func (r *Renderer) RenderTabs(ctx context.Context, tabs []TabView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mounted[ProgressOverlayID] {
		return nil
	}
	markup := progressRows(tabs)
	err := r.doc.SetContent(ctx, ProgressOverlayID, markup)
	if errors.Is(err, dom.ErrNotMounted) {
		r.mounted[ProgressOverlayID] = false
		err = r.mountLocked(ctx, r.progressMount(tabs))
	}
	if err != nil {
		return fmt.Errorf("render tabs: %w", err)
	}
	r.rows = len(tabs)
	return nil
}

// HasRows reports whether the progress panel currently shows any tab rows.
func (r *Renderer) HasRows() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted[ProgressOverlayID] && r.rows > 0
}

// DismountProgress removes the progress panel.
func (r *Renderer) DismountProgress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = 0
	return r.unmountLocked(ctx, ProgressOverlayID)
}

// MountSummaryWidget installs the foreground summary widget.
func (r *Renderer) MountSummaryWidget(ctx context.Context, anchor []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.widget = anchor
	return r.mountLocked(ctx, r.widgetMount(SummaryResult{Status: SummaryIdle}))
}

// RenderSummary shows result in the summary widget.
func (r *Renderer) RenderSummary(ctx context.Context, result SummaryResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mounted[SummaryWidgetID] {
		return nil
	}
	err := r.doc.SetContent(ctx, SummaryWidgetID, r.widgetContent(result))
	if errors.Is(err, dom.ErrNotMounted) {
		r.mounted[SummaryWidgetID] = false
		err = r.mountLocked(ctx, r.widgetMount(result))
	}
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return nil
}

// DismountSummaryWidget removes the summary widget.
func (r *Renderer) DismountSummaryWidget(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unmountLocked(ctx, SummaryWidgetID)
}

func (r *Renderer) mountLocked(ctx context.Context, mount dom.Mount) error {
	if r.mounted[mount.ID] {
		return nil
	}
	if err := r.doc.Mount(ctx, mount); err != nil {
		return fmt.Errorf("mount %s: %w", mount.ID, err)
	}
	r.mounted[mount.ID] = true
	return nil
}

func (r *Renderer) unmountLocked(ctx context.Context, id string) error {
	if !r.mounted[id] {
		return nil
	}
	if err := r.doc.Unmount(ctx, id); err != nil {
		return fmt.Errorf("unmount %s: %w", id, err)
	}
	r.mounted[id] = false
	return nil
}

func (r *Renderer) progressMount(tabs []TabView) dom.Mount {
	return dom.Mount{
		ID:      ProgressOverlayID,
		StyleID: progressStyleID,
		CSS:     progressCSS,
		HTML:    progressRows(tabs),
		Anchor:  r.progress,
	}
}

func (r *Renderer) widgetMount(result SummaryResult) dom.Mount {
	return dom.Mount{
		ID:      SummaryWidgetID,
		StyleID: summaryStyleID,
		CSS:     summaryCSS,
		HTML:    r.widgetContent(result),
		Anchor:  r.widget,
		Action:  SummaryButtonID,
	}
}

func progressRows(tabs []TabView) string {
	var b strings.Builder
	b.WriteString(`<div class="aa-list">`)
	for _, tab := range tabs {
		class, badge := "in-progress", "In progress"
		switch tab.Status {
		case TabDone:
			class, badge = "completed", "Completed"
		case TabDoneWithErrors:
			class, badge = "completed with-errors", "Completed with errors"
		}
		fmt.Fprintf(&b,
			`<div class="aa-row %s" data-tab="%s"><div class="aa-head"><span class="aa-name">%s</span><span class="aa-badge">%s</span></div><div class="aa-bar"><div class="aa-fill"></div></div></div>`,
			class, html.EscapeString(tab.Name), html.EscapeString(tab.Name), badge,
		)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// widgetView maps a summary result to the widget's button label, status line and body.
type widgetView struct {
	Button   string
	Disabled bool
	Status   string
	Body     string
	Error    bool
}

func summaryView(result SummaryResult) widgetView {
	switch result.Status {
	case SummaryLoading:
		return widgetView{Button: "Summarizing...", Disabled: true, Status: "Generating session recap..."}
	case SummarySuccess:
		status := "Updated"
		if !result.GeneratedAt.IsZero() {
			status = "Updated " + result.GeneratedAt.Local().Format("15:04:05")
		}
		return widgetView{Button: "Regenerate Summary", Status: status, Body: strings.TrimSpace(result.Summary)}
	case SummaryError:
		message := strings.TrimSpace(result.Error)
		if message == "" {
			message = "Failed to generate summary."
		}
		return widgetView{Button: "Retry Summary", Status: message, Error: true}
	default:
		return widgetView{Button: "Summarize Session", Status: "Click to generate a recap for this session."}
	}
}

func (r *Renderer) widgetContent(result SummaryResult) string {
	view := summaryView(result)
	class := "aa-inner"
	if view.Error {
		class += " error"
	}
	disabled := ""
	if view.Disabled {
		disabled = " disabled"
	}
	body := ""
	if view.Body != "" {
		var rendered bytes.Buffer
		if err := r.markdown.Convert([]byte(view.Body), &rendered); err != nil {
			body = "<pre>" + html.EscapeString(view.Body) + "</pre>"
		} else {
			body = rendered.String()
		}
	}
	return fmt.Sprintf(
		`<div class="%s"><div class="aa-title">Session recap</div><button id="%s"%s>%s</button><div class="aa-status">%s</div><div class="aa-body">%s</div></div>`,
		class, SummaryButtonID, disabled, html.EscapeString(view.Button), html.EscapeString(view.Status), body,
	)
}
