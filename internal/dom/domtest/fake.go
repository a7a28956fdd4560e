// Package domtest provides an in-memory dom.Document for tests.
package domtest

import (
	"context"
	"sync"

	"github.com/ship-commander/autoaccept/internal/dom"
)

// Document is a scripted dom.Document. Query results are registered per selector.
type Document struct {
	mu         sync.Mutex
	results    map[string][]*dom.Node
	queryErr   error
	activated  []string
	activateFn func(ref string) error
	signals    dom.Signals
	mounts     map[string]dom.Mount
	contents   map[string]string
	styles     map[string]bool
	unmounted  []string
	queries    int
}

// New constructs an empty fake document.
func New() *Document {
	return &Document{
		results:  map[string][]*dom.Node{},
		mounts:   map[string]dom.Mount{},
		contents: map[string]string{},
		styles:   map[string]bool{},
		signals:  dom.Signals{Focused: true},
	}
}

// Set registers the nodes returned for selector.
func (d *Document) Set(selector string, nodes ...*dom.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[selector] = nodes
}

// FailQueries makes every Query return err until cleared with nil.
func (d *Document) FailQueries(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr = err
}

// OnActivate installs a hook run for every activation.
func (d *Document) OnActivate(fn func(ref string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activateFn = fn
}

// SetSignals replaces the pending user signals.
func (d *Document) SetSignals(signals dom.Signals) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = signals
}

// Query implements dom.Document.
func (d *Document) Query(_ context.Context, selectors ...string) ([]*dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries++
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	var out []*dom.Node
	for _, selector := range selectors {
		out = append(out, d.results[selector]...)
	}
	return out, nil
}

// Activate implements dom.Document.
func (d *Document) Activate(_ context.Context, ref string) error {
	d.mu.Lock()
	fn := d.activateFn
	d.mu.Unlock()
	if fn != nil {
		if err := fn(ref); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activated = append(d.activated, ref)
	return nil
}

// Signals implements dom.Document. The summary click is consumed by the read.
func (d *Document) Signals(context.Context) (dom.Signals, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.signals
	d.signals.SummaryClicked = false
	return out, nil
}

// Mount implements dom.Document.
func (d *Document) Mount(_ context.Context, mount dom.Mount) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mount.StyleID != "" {
		d.styles[mount.StyleID] = true
	}
	if _, ok := d.mounts[mount.ID]; ok {
		return nil
	}
	d.mounts[mount.ID] = mount
	d.contents[mount.ID] = mount.HTML
	return nil
}

// SetContent implements dom.Document.
func (d *Document) SetContent(_ context.Context, id, html string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.mounts[id]; !ok {
		return dom.ErrNotMounted
	}
	d.contents[id] = html
	return nil
}

// Unmount implements dom.Document.
func (d *Document) Unmount(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mount, ok := d.mounts[id]
	if !ok {
		return nil
	}
	delete(d.styles, mount.StyleID)
	delete(d.mounts, id)
	delete(d.contents, id)
	d.unmounted = append(d.unmounted, id)
	return nil
}

// Activated returns refs activated so far, in order.
func (d *Document) Activated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.activated...)
}

// Mounted reports whether markup with id is installed.
func (d *Document) Mounted(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.mounts[id]
	return ok
}

// Content returns the current markup for id.
func (d *Document) Content(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contents[id]
}

// Styled reports whether the stylesheet with id is installed.
func (d *Document) Styled(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.styles[id]
}

// Reload drops every mount and stylesheet the way a page navigation does.
func (d *Document) Reload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.mounts)
	clear(d.contents)
	clear(d.styles)
}

// Unmounted returns ids removed so far.
func (d *Document) Unmounted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.unmounted...)
}

// Queries returns the number of Query calls.
func (d *Document) Queries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries
}

// Button returns an interactive button node.
func Button(ref, text string) *dom.Node {
	return &dom.Node{
		Ref:   ref,
		Tag:   "button",
		Text:  text,
		Rect:  dom.Rect{Width: 80, Height: 24},
		Style: dom.Style{Display: "inline-block", Visibility: "visible", PointerEvents: "auto", Opacity: "1"},
	}
}

// Element returns a visible node with tag and text.
func Element(ref, tag, text string) *dom.Node {
	node := Button(ref, text)
	node.Tag = tag
	return node
}
