// Package exitintent detects when a user wants to leave the conversation.
//
// Three ordered pattern families are evaluated against the most recent
// user message: booking beats wrap-up beats frustration, so booking
// phrases win over ambiguous wrap-up/frustration language. Repeated
// frustration inside a 30-second cooldown window escalates to a forced
// exit regardless of the specific phrase.
//
// Attempt counters are keyed by session id in a mutex-guarded map, so
// concurrent sessions on one process cannot interfere with each other's
// cooldown windows.
package exitintent

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/closerlabs/convoengine/pkg/models"
)

const (
	// CooldownWindow is how long a frustration attempt stays "hot".
	CooldownWindow = 30 * time.Second

	// forceExitThreshold is the attempt count inside the window that
	// forces an exit.
	forceExitThreshold = 2

	// recentWindow limits how far back the detector looks for the most
	// recent user message.
	recentWindow = 5
)

// ── Pattern Families ────────────────────────────────────────

type exitPattern struct {
	Pattern    *regexp.Regexp
	Confidence float64
}

var bookingPatterns = []exitPattern{
	{regexp.MustCompile(`(?i)\bbook\s+(a|the|that)\s+(meeting|call|demo|slot|time)\b`), 0.9},
	{regexp.MustCompile(`(?i)\bschedule\s+(a|the|that|something)\b`), 0.9},
	{regexp.MustCompile(`(?i)\b(calendar|booking)\s+link\b`), 0.9},
	{regexp.MustCompile(`(?i)\bset\s+up\s+a\s+(call|meeting|demo)\b`), 0.85},
	{regexp.MustCompile(`(?i)\blet'?s\s+book\b`), 0.9},
	{regexp.MustCompile(`(?i)\bsend\s+me\s+the\s+link\b`), 0.85},
	{regexp.MustCompile(`(?i)\bhow\s+do\s+i\s+book\b`), 0.85},
}

var wrapUpPatterns = []exitPattern{
	{regexp.MustCompile(`(?i)\bthat'?s\s+(all|it|everything)\b`), 0.8},
	{regexp.MustCompile(`(?i)\bwe'?re\s+done\b`), 0.8},
	{regexp.MustCompile(`(?i)\b(got\s*ta|have\s+to|need\s+to)\s+(go|run|jump)\b`), 0.8},
	{regexp.MustCompile(`(?i)\bwrap\s+(this\s+|it\s+)?up\b`), 0.8},
	{regexp.MustCompile(`(?i)\bi'?m\s+all\s+set\b`), 0.8},
	{regexp.MustCompile(`(?i)\bno\s+more\s+questions\b`), 0.75},
	{regexp.MustCompile(`(?i)\b(goodbye|bye\s+for\s+now|talk\s+later)\b`), 0.75},
}

var frustrationPatterns = []exitPattern{
	{regexp.MustCompile(`(?i)\bthis\s+is(n'?t|\s+not)\s+(working|helping|helpful|useful)\b`), 0.75},
	{regexp.MustCompile(`(?i)\byou('?re|\s+are)\s+not\s+(listening|helping|getting\s+it)\b`), 0.75},
	{regexp.MustCompile(`(?i)\bstop\s+(asking|repeating|it)\b`), 0.7},
	{regexp.MustCompile(`(?i)\bi\s+give\s+up\b`), 0.8},
	{regexp.MustCompile(`(?i)\b(useless|pointless)\b`), 0.75},
	{regexp.MustCompile(`(?i)\bwaste\s+of\s+(my\s+)?time\b`), 0.8},
	{regexp.MustCompile(`(?i)\bi'?m\s+done\b`), 0.7},
	{regexp.MustCompile(`(?i)frustrat`), 0.75},
	{regexp.MustCompile(`(?i)\bnot\s+what\s+i\s+asked\b`), 0.7},
}

// ── Tracker ─────────────────────────────────────────────────

type attemptEntry struct {
	attempts    int
	lastAttempt time.Time
}

// Tracker holds per-session frustration attempt counters. Reset must be
// called at session start so a reused session id never inherits stale
// attempts.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*attemptEntry
}

// NewTracker creates a tracker on the wall clock.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates a tracker with an injectable clock.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, entries: make(map[string]*attemptEntry)}
}

// recordFrustration bumps the session's counter and returns the new
// count. More than CooldownWindow since the last attempt resets the
// counter to 1; the last-attempt time is updated unconditionally.
func (t *Tracker) recordFrustration(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[sessionID]
	if !ok {
		e = &attemptEntry{}
		t.entries[sessionID] = e
	}

	if !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) > CooldownWindow {
		e.attempts = 1
	} else {
		e.attempts++
	}
	e.lastAttempt = now
	return e.attempts
}

// Reset clears the session's attempt state. Call at session start.
func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sessionID)
}

// Attempts returns the current counter for a session.
func (t *Tracker) Attempts(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[sessionID]; ok {
		return e.attempts
	}
	return 0
}

// ── Detector ────────────────────────────────────────────────

// Detector evaluates exit intent for conversation turns.
type Detector struct {
	tracker *Tracker
}

// NewDetector creates a detector with a fresh tracker.
func NewDetector() *Detector {
	return &Detector{tracker: NewTracker()}
}

// NewDetectorWithTracker allows sharing or faking the tracker.
func NewDetectorWithTracker(t *Tracker) *Detector {
	return &Detector{tracker: t}
}

// Tracker exposes the underlying tracker for session lifecycle hooks.
func (d *Detector) Tracker() *Tracker { return d.tracker }

// Detect examines the most recent user message within the last
// recentWindow turns and returns the strongest exit signal.
func (d *Detector) Detect(sessionID string, messages []models.ConversationTurn) models.ExitSignal {
	msg, ok := lastUserMessage(messages)
	if !ok {
		return models.ExitSignal{Intent: models.ExitNone}
	}

	for _, p := range bookingPatterns {
		if m := p.Pattern.FindString(msg); m != "" {
			return models.ExitSignal{Intent: models.ExitBooking, Confidence: p.Confidence, MatchedPhrase: m}
		}
	}

	for _, p := range wrapUpPatterns {
		if m := p.Pattern.FindString(msg); m != "" {
			return models.ExitSignal{Intent: models.ExitWrapUp, Confidence: p.Confidence, MatchedPhrase: m}
		}
	}

	for _, p := range frustrationPatterns {
		if m := p.Pattern.FindString(msg); m != "" {
			attempts := d.tracker.recordFrustration(sessionID)
			if attempts >= forceExitThreshold {
				return models.ExitSignal{
					Intent:          models.ExitForce,
					Confidence:      0.95,
					ShouldForceExit: true,
					MatchedPhrase:   m,
				}
			}
			return models.ExitSignal{Intent: models.ExitFrustration, Confidence: p.Confidence, MatchedPhrase: m}
		}
	}

	return models.ExitSignal{Intent: models.ExitNone}
}

func lastUserMessage(messages []models.ConversationTurn) (string, bool) {
	start := len(messages) - recentWindow
	if start < 0 {
		start = 0
	}
	for i := len(messages) - 1; i >= start; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

// ── Sentiment Trend ─────────────────────────────────────────

var positiveMarkers = []string{
	"great", "thanks", "thank you", "awesome", "perfect", "love",
	"helpful", "good", "nice", "excellent", "interesting", "sounds good",
}

var strongNegativeMarkers = []string{
	"terrible", "awful", "useless", "hate", "worst", "angry",
	"frustrat", "waste", "annoying",
}

var mildNegationMarkers = []string{
	"no ", "not ", "don't", "can't", "won't", "never",
}

// AnalyzeSentimentTrend scores the last 10 user turns with a simple
// keyword-weighted scheme and compares first-half vs second-half
// averages. Secondary signal only; never used for exit decisions.
func AnalyzeSentimentTrend(messages []models.ConversationTurn) models.SentimentTrend {
	var scores []float64
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		scores = append(scores, scoreSentiment(m.Content))
	}
	if len(scores) > 10 {
		scores = scores[len(scores)-10:]
	}
	if len(scores) < 4 {
		return models.SentimentStable
	}

	mid := len(scores) / 2
	first := mean(scores[:mid])
	second := mean(scores[mid:])

	switch {
	case second-first > 0.1:
		return models.SentimentImproving
	case first-second > 0.1:
		return models.SentimentDeclining
	default:
		return models.SentimentStable
	}
}

func scoreSentiment(text string) float64 {
	lower := " " + strings.ToLower(text) + " "
	score := 0.0
	for _, m := range positiveMarkers {
		if strings.Contains(lower, m) {
			score += 0.2
		}
	}
	for _, m := range strongNegativeMarkers {
		if strings.Contains(lower, m) {
			score -= 0.3
		}
	}
	for _, m := range mildNegationMarkers {
		if strings.Contains(lower, m) {
			score -= 0.1
		}
	}
	return score
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
