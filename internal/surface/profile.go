package surface

import (
	"strings"
	"time"
)

// Profile describes the selectors and timings of one chat surface shape.
type Profile struct {
	Name    string
	Buttons []string
	// Tabs are tried in order; the first selector with matches wins.
	Tabs []string
	// NewConversation reveals the tab list before each cycle when set.
	NewConversation string
	RevealDelay     time.Duration
	SettleDelay     time.Duration
	CycleDelay      time.Duration
	// FeedbackSelector and FeedbackTexts identify completed conversations.
	FeedbackSelector string
	FeedbackTexts    []string
	Diagnostics      []string
	ErrorDecorations []string
	Panels           []string
}

var panelSelectors = []string{
	`#antigravity\.agentPanel`,
	`#workbench\.parts\.auxiliarybar`,
	`.auxiliary-bar-container`,
	`#workbench\.parts\.sidebar`,
}

var cursorProfile = Profile{
	Name:    "cursor",
	Buttons: []string{"button", `[class*="button"]`, `[class*="anysphere"]`},
	Tabs: []string{
		`#workbench\.parts\.auxiliarybar ul[role="tablist"] li[role="tab"]`,
		`.monaco-pane-view .monaco-list-row[role="listitem"]`,
		`div[role="tablist"] div[role="tab"]`,
		`.chat-session-item`,
	},
	CycleDelay: 3 * time.Second,
	Panels:     panelSelectors,
}

var antigravityProfile = Profile{
	Name:             "antigravity",
	Buttons:          []string{".bg-ide-button-background", "button.bg-primary", "button.rounded-l"},
	Tabs:             []string{"button.grow"},
	NewConversation:  `[data-tooltip-id='new-conversation-tooltip']`,
	RevealDelay:      1500 * time.Millisecond,
	SettleDelay:      1500 * time.Millisecond,
	CycleDelay:       3 * time.Second,
	FeedbackSelector: "span",
	FeedbackTexts:    []string{"Good", "Bad"},
	Diagnostics:      []string{".codicon-error", ".codicon-warning", `[class*="marker-count"]`},
	ErrorDecorations: []string{".squiggly-error"},
	Panels:           panelSelectors,
}

// ProfileFor returns the profile for an IDE name. Unknown names use the cursor shape.
func ProfileFor(ide string) Profile {
	switch strings.ToLower(strings.TrimSpace(ide)) {
	case "antigravity":
		return antigravityProfile
	default:
		profile := cursorProfile
		if name := strings.ToLower(strings.TrimSpace(ide)); name != "" {
			profile.Name = name
		}
		return profile
	}
}

// TracksCompletion reports whether the profile can detect finished conversations.
func (p Profile) TracksCompletion() bool {
	return p.FeedbackSelector != "" && len(p.FeedbackTexts) > 0
}
