// Package dom models snapshots of a rendering surface and the port used to act on it.
package dom

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotMounted is returned by SetContent when the target markup is absent.
var ErrNotMounted = errors.New("markup not mounted")

// Rect is an element's rendered bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Style holds the computed style properties the controller reads.
type Style struct {
	Display       string `json:"display"`
	Visibility    string `json:"visibility"`
	PointerEvents string `json:"pointerEvents"`
	Opacity       string `json:"opacity"`
}

// Node is a detached snapshot of one element and, for query results, a bounded
// neighborhood of ancestors and preceding siblings.
type Node struct {
	Ref      string            `json:"ref"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Rect     Rect              `json:"rect"`
	Style    Style             `json:"style"`
	Disabled bool              `json:"disabled"`
	Children []*Node           `json:"children,omitempty"`

	parent *Node
}

// Link sets parent pointers across the subtree rooted at n.
func (n *Node) Link() *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child == nil {
			continue
		}
		child.parent = n
		child.Link()
	}
	return n
}

// Parent returns the enclosing node, or nil at the top of the snapshot.
func (n *Node) Parent() *Node {
	if n == nil {
		return nil
	}
	return n.parent
}

// PreviousSiblings returns up to limit preceding siblings, nearest first.
func (n *Node) PreviousSiblings(limit int) []*Node {
	if n == nil || n.parent == nil || limit <= 0 {
		return nil
	}
	siblings := n.parent.Children
	index := -1
	for i, sibling := range siblings {
		if sibling == n {
			index = i
			break
		}
	}
	out := make([]*Node, 0, limit)
	for i := index - 1; i >= 0 && len(out) < limit; i-- {
		if siblings[i] != nil {
			out = append(out, siblings[i])
		}
	}
	return out
}

// Descendants returns every node below n whose tag is one of tags, in document order.
func (n *Node) Descendants(tags ...string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	var walk func(*Node)
	walk = func(current *Node) {
		for _, child := range current.Children {
			if child == nil {
				continue
			}
			if child.HasTag(tags...) {
				out = append(out, child)
			}
			walk(child)
		}
	}
	walk(n)
	return out
}

// Find returns the node with ref in the subtree rooted at n.
func (n *Node) Find(ref string) *Node {
	if n == nil || ref == "" {
		return nil
	}
	if n.Ref == ref {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(ref); found != nil {
			return found
		}
	}
	return nil
}

// HasTag reports whether the node's tag is one of tags, ignoring case.
func (n *Node) HasTag(tags ...string) bool {
	if n == nil {
		return false
	}
	for _, tag := range tags {
		if strings.EqualFold(n.Tag, tag) {
			return true
		}
	}
	return false
}

// Attr returns the named attribute or "".
func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Visible reports whether the node renders with a non-zero box.
func (n *Node) Visible() bool {
	if n == nil {
		return false
	}
	if n.Style.Display == "none" || n.Style.Visibility == "hidden" || n.Style.Opacity == "0" {
		return false
	}
	return n.Rect.Width > 0 && n.Rect.Height > 0
}

// Signals are user-side observations recorded by the surface since the last read.
type Signals struct {
	LastPointerDown time.Time `json:"lastPointerDown"`
	SummaryClicked  bool      `json:"summaryClicked"`
	Focused         bool      `json:"focused"`
}

// Mount describes markup installed into the surface.
type Mount struct {
	ID      string
	StyleID string
	CSS     string
	HTML    string
	// Anchor lists selectors of the panel the markup tracks; empty means fixed to the viewport.
	Anchor []string
	// Action names the control inside the markup that raises Signals.SummaryClicked.
	Action string
}

// Document is the port onto one rendering surface. Implementations query the
// top-level document and every reachable nested frame.
type Document interface {
	Query(ctx context.Context, selectors ...string) ([]*Node, error)
	Activate(ctx context.Context, ref string) error
	Signals(ctx context.Context) (Signals, error)
	Mount(ctx context.Context, mount Mount) error
	SetContent(ctx context.Context, id, html string) error
	Unmount(ctx context.Context, id string) error
}

// Page is one surface target exposed by the renderer.
type Page struct {
	ID       string
	Title    string
	URL      string
	Document Document
}
