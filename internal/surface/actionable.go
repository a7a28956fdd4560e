package surface

import (
	"strings"

	"github.com/ship-commander/autoaccept/internal/banned"
	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	maxLabelLength      = 50
	maxAncestorLevels   = 10
	maxSiblingsPerLevel = 5
	maxFallbackSiblings = 3
	maxCodeBlockLength  = 5000
	minCommandLength    = 10
)

var acceptTerms = []string{"accept", "run", "retry", "apply", "execute", "confirm", "always allow", "allow once", "allow"}

var rejectTerms = []string{"skip", "reject", "cancel", "close", "refine"}

// ActionKind groups activated controls for counting.
type ActionKind int

const (
	ActionOther ActionKind = iota
	ActionTerminal
	ActionFileEdit
)

// Verdict is the classifier's decision for one node.
type Verdict struct {
	Actionable bool
	Blocked    bool
	Pattern    string
	Kind       ActionKind
	Reason     string
}

// Classify decides whether node is an affirmative control that is safe to activate.
func Classify(node *dom.Node, patterns []banned.Pattern) Verdict {
	if node == nil {
		return Verdict{Reason: "nil node"}
	}
	label := strings.ToLower(strings.TrimSpace(node.Text))
	if label == "" || len([]rune(label)) > maxLabelLength {
		return Verdict{Reason: "label length"}
	}
	if containsAny(label, rejectTerms) {
		return Verdict{Reason: "reject term"}
	}
	if !containsAny(label, acceptTerms) {
		return Verdict{Reason: "no accept term"}
	}

	kind := ActionOther
	switch {
	case strings.Contains(label, "run") || strings.Contains(label, "execute"):
		kind = ActionTerminal
	case strings.Contains(label, "accept") || strings.Contains(label, "apply"):
		kind = ActionFileEdit
	}

	interactive := Interactive(node)
	if kind == ActionTerminal {
		command := label + "\n" + NearbyCommandText(node)
		if pattern, ok := banned.MatchCompiled(command, patterns); ok {
			if !interactive {
				return Verdict{Reason: "not interactive", Pattern: pattern}
			}
			return Verdict{Blocked: true, Pattern: pattern, Kind: kind, Reason: "banned command"}
		}
	}
	if !interactive {
		return Verdict{Reason: "not interactive"}
	}
	return Verdict{Actionable: true, Kind: kind}
}

// Interactive reports whether node is rendered and accepts pointer input.
func Interactive(node *dom.Node) bool {
	if node == nil || node.Disabled {
		return false
	}
	if node.Style.Display == "none" || node.Style.Visibility == "hidden" || node.Style.PointerEvents == "none" {
		return false
	}
	return node.Rect.Width > 0 && node.Rect.Height > 0
}

// NearbyCommandText recovers the command a run control refers to from nearby
// code blocks and the control's own accessible labels. The result is lower-cased.
func NearbyCommandText(node *dom.Node) string {
	if node == nil {
		return ""
	}
	var collected strings.Builder
	appendCode := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" || len(text) >= maxCodeBlockLength {
			return
		}
		collected.WriteString(text)
		collected.WriteString("\n")
	}

	container := node.Parent()
	for depth := 0; container != nil && depth < maxAncestorLevels; depth++ {
		for _, sibling := range container.PreviousSiblings(maxSiblingsPerLevel) {
			if sibling.HasTag("pre", "code") {
				appendCode(sibling.Text)
			}
			for _, block := range sibling.Descendants("pre", "code") {
				appendCode(block.Text)
			}
		}
		if collected.Len() > minCommandLength {
			break
		}
		container = container.Parent()
	}

	if collected.Len() == 0 {
		for _, sibling := range node.PreviousSiblings(maxFallbackSiblings) {
			for _, block := range sibling.Descendants("pre", "code") {
				appendCode(block.Text)
			}
		}
	}

	for _, attr := range []string{"aria-label", "title"} {
		if value := strings.TrimSpace(node.Attr(attr)); value != "" {
			collected.WriteString(value)
			collected.WriteString("\n")
		}
	}
	return strings.ToLower(strings.TrimSpace(collected.String()))
}

func containsAny(label string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(label, term) {
			return true
		}
	}
	return false
}
