package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	neighborhoodDepth    = 10
	neighborhoodSiblings = 5
)

// Document evaluates dom.Document operations inside one page. It resolves the
// page on every call so it survives reconnects while the target lives.
type Document struct {
	conn   *Connector
	target string
}

var _ dom.Document = (*Document)(nil)

// match is one query result: the outermost ancestor of the neighborhood and
// the ref of the matched element within it.
type match struct {
	Root *dom.Node `json:"root"`
	Ref  string    `json:"ref"`
}

// Query implements dom.Document.
func (d *Document) Query(ctx context.Context, selectors ...string) ([]*dom.Node, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	var matches []match
	if err := d.conn.evaluate(ctx, d.target, queryScript, &matches, selectors, neighborhoodDepth, neighborhoodSiblings); err != nil {
		return nil, err
	}
	return linkMatches(matches), nil
}

// Activate implements dom.Document.
func (d *Document) Activate(ctx context.Context, ref string) error {
	var ok bool
	if err := d.conn.evaluate(ctx, d.target, activateScript, &ok, ref); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s no longer present", ref)
	}
	return nil
}

// Signals implements dom.Document.
func (d *Document) Signals(ctx context.Context) (dom.Signals, error) {
	var signals dom.Signals
	err := d.conn.evaluate(ctx, d.target, signalsScript, &signals)
	return signals, err
}

type mountArgs struct {
	ID      string   `json:"id"`
	StyleID string   `json:"styleId"`
	CSS     string   `json:"css"`
	HTML    string   `json:"html"`
	Anchor  []string `json:"anchor"`
	Action  string   `json:"action"`
}

// Mount implements dom.Document.
func (d *Document) Mount(ctx context.Context, mount dom.Mount) error {
	args := mountArgs{
		ID:      mount.ID,
		StyleID: mount.StyleID,
		CSS:     mount.CSS,
		HTML:    mount.HTML,
		Anchor:  mount.Anchor,
		Action:  mount.Action,
	}
	return d.conn.evaluate(ctx, d.target, mountScript, nil, args)
}

// SetContent implements dom.Document.
func (d *Document) SetContent(ctx context.Context, id, html string) error {
	var ok bool
	if err := d.conn.evaluate(ctx, d.target, setContentScript, &ok, id, html); err != nil {
		return err
	}
	if !ok {
		return dom.ErrNotMounted
	}
	return nil
}

// Unmount implements dom.Document.
func (d *Document) Unmount(ctx context.Context, id string) error {
	return d.conn.evaluate(ctx, d.target, unmountScript, nil, id)
}

func linkMatches(matches []match) []*dom.Node {
	out := make([]*dom.Node, 0, len(matches))
	for _, m := range matches {
		if m.Root == nil {
			continue
		}
		if node := m.Root.Link().Find(m.Ref); node != nil {
			out = append(out, node)
		}
	}
	return out
}

// decodeMatches is the decoding half of Query, split out for tests.
func decodeMatches(raw []byte) ([]*dom.Node, error) {
	var matches []match
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, err
	}
	return linkMatches(matches), nil
}
