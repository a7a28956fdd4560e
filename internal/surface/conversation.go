package surface

import (
	"context"
	"strings"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	minSnippetLength = 24
	maxSnippetLength = 1800
	snippetKeyLength = 160
)

var conversationSelectors = []string{
	`[data-role="assistant"]`,
	`[data-testid*="assistant"]`,
	`.assistant`,
	`.message.assistant`,
	`.chat-message`,
	`.markdown`,
	`article`,
	`p`,
	`li`,
	`pre`,
	`code`,
}

// VisibleConversationText collects visible chat text from the assistant panel,
// deduplicated and capped at maxChars.
func (c *Controller) VisibleConversationText(ctx context.Context, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultConversationChars
	}
	profile, _ := c.state.runtime()
	if len(profile.Panels) == 0 {
		profile = ProfileFor("")
	}

	root := ""
	var panel *dom.Node
	for _, selector := range profile.Panels {
		nodes, err := c.doc.Query(ctx, selector)
		if err != nil {
			return "", err
		}
		if len(nodes) > 0 {
			root, panel = selector, nodes[0]
			break
		}
	}

	snippets := make([]string, 0, 32)
	seen := map[string]struct{}{}
	total := 0
collect:
	for _, selector := range conversationSelectors {
		if root != "" {
			selector = root + " " + selector
		}
		nodes, err := c.doc.Query(ctx, selector)
		if err != nil {
			return "", err
		}
		for _, node := range nodes {
			if !node.Visible() {
				continue
			}
			text := collapseSpace(node.Text)
			if len(text) < minSnippetLength {
				continue
			}
			text = truncate(text, maxSnippetLength, "...")
			key := truncate(text, snippetKeyLength, "")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			snippets = append(snippets, text)
			total += len(text) + 2
			if total >= maxChars {
				break collect
			}
		}
	}

	if len(snippets) == 0 {
		if panel == nil {
			return "", nil
		}
		return truncate(collapseSpace(panel.Text), maxChars, ""), nil
	}
	return truncate(strings.Join(snippets, "\n\n"), maxChars, ""), nil
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// truncate cuts text to at most limit runes, appending suffix when it cut.
func truncate(text string, limit int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + suffix
}
