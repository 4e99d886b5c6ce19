package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifeline/pkg/types"
)

// Default risk phrases, matched case-insensitively as substrings. The
// imminence tier upgrades a match to IMMEDIATE. Plain substring matching
// with no stemming or negation handling is deliberate; changing the
// matching behavior changes which conversations get escalated.
var defaultRiskPhrases = []string{
	"kill myself",
	"end my life",
	"want to die",
	"suicide",
	"hurt myself",
	"self harm",
	"self-harm",
	"overdose",
	"pills ready",
	"no reason to live",
	"better off dead",
	"end it all",
}

var defaultImminencePhrases = []string{
	"tonight",
	"right now",
	"immediately",
	"going to do it",
	"doing it",
	"about to",
}

// Detector classifies message content for risk indicators.
type Detector struct {
	riskPhrases      []string
	imminencePhrases []string
}

// Match is the result of a scan that found at least one risk phrase.
type Match struct {
	Phrases  []string
	Imminent bool
}

// NewDetector creates a detector with the compiled-in phrase lists.
func NewDetector() *Detector {
	return &Detector{
		riskPhrases:      defaultRiskPhrases,
		imminencePhrases: defaultImminencePhrases,
	}
}

// NewDetectorWithPhrases creates a detector with custom phrase lists.
// Empty lists fall back to the defaults.
func NewDetectorWithPhrases(risk, imminence []string) *Detector {
	d := NewDetector()
	if len(risk) > 0 {
		d.riskPhrases = risk
	}
	if len(imminence) > 0 {
		d.imminencePhrases = imminence
	}
	return d
}

// Scan normalizes content to lowercase and returns the subset of
// configured phrases found in it, or nil when nothing matched.
func (d *Detector) Scan(content string) *Match {
	normalized := strings.ToLower(content)

	var matched []string
	for _, phrase := range d.riskPhrases {
		if strings.Contains(normalized, phrase) {
			matched = append(matched, phrase)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	imminent := false
	for _, phrase := range d.imminencePhrases {
		if strings.Contains(normalized, phrase) {
			matched = append(matched, phrase)
			imminent = true
		}
	}

	return &Match{Phrases: matched, Imminent: imminent}
}

// BuildAlert synthesizes an auto-detected EmergencyAlert from a scan
// match. The alert message names the matched phrases for audit and
// training purposes; it is never shown to the at-risk user.
func (d *Detector) BuildAlert(sessionID string, match *Match) *types.EmergencyAlert {
	level := types.AlertLevelHigh
	if match.Imminent {
		level = types.AlertLevelImmediate
	}

	return &types.EmergencyAlert{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Level:       level,
		Message:     fmt.Sprintf("Automatic risk detection matched phrases: %s", strings.Join(match.Phrases, ", ")),
		Timestamp:   time.Now(),
		TriggerType: types.TriggerAutoDetected,
	}
}
