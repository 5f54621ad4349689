package exitintent_test

import (
	"testing"
	"time"

	"github.com/closerlabs/convoengine/internal/exitintent"
	"github.com/closerlabs/convoengine/pkg/models"
)

func userMsg(content string) []models.ConversationTurn {
	return []models.ConversationTurn{{Role: models.RoleUser, Content: content}}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newDetector() (*exitintent.Detector, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return exitintent.NewDetectorWithTracker(exitintent.NewTrackerWithClock(clock.Now)), clock
}

func TestDetect_BookingWinsOverAmbiguousLanguage(t *testing.T) {
	d, _ := newDetector()

	sig := d.Detect("s-1", userMsg("this isn't working for me, let's book a meeting and be done"))
	if sig.Intent != models.ExitBooking {
		t.Fatalf("intent = %q, want booking", sig.Intent)
	}
	if sig.ShouldForceExit {
		t.Error("booking must not force exit")
	}
}

func TestDetect_WrapUp(t *testing.T) {
	d, _ := newDetector()

	sig := d.Detect("s-1", userMsg("ok that's all I needed, thanks"))
	if sig.Intent != models.ExitWrapUp {
		t.Fatalf("intent = %q, want wrap_up", sig.Intent)
	}
}

func TestDetect_RepeatedFrustrationInsideCooldownForcesExit(t *testing.T) {
	d, clock := newDetector()

	first := d.Detect("s-1", userMsg("this is not working"))
	if first.Intent != models.ExitFrustration || first.ShouldForceExit {
		t.Fatalf("first frustration: got %+v", first)
	}

	clock.Advance(10 * time.Second)
	second := d.Detect("s-1", userMsg("this is not working"))
	if second.Intent != models.ExitForce {
		t.Fatalf("second frustration inside cooldown: intent = %q, want force_exit", second.Intent)
	}
	if !second.ShouldForceExit {
		t.Error("shouldForceExit must be true")
	}
	if second.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", second.Confidence)
	}
}

func TestDetect_FrustrationAfterCooldownDoesNotForceExit(t *testing.T) {
	d, clock := newDetector()

	d.Detect("s-1", userMsg("this is not working"))
	clock.Advance(40 * time.Second)

	sig := d.Detect("s-1", userMsg("this is not working"))
	if sig.Intent != models.ExitFrustration {
		t.Fatalf("intent = %q, want frustration (counter reset after cooldown)", sig.Intent)
	}
	if sig.ShouldForceExit {
		t.Error("must not force exit after cooldown elapsed")
	}
}

func TestDetect_SessionsDoNotInterfere(t *testing.T) {
	d, clock := newDetector()

	d.Detect("s-1", userMsg("this is not working"))
	clock.Advance(5 * time.Second)

	sig := d.Detect("s-2", userMsg("this is not working"))
	if sig.Intent != models.ExitFrustration {
		t.Fatalf("fresh session escalated from another session's attempts: %+v", sig)
	}
}

func TestDetect_ResetClearsAttempts(t *testing.T) {
	d, clock := newDetector()

	d.Detect("s-1", userMsg("this is not working"))
	d.Tracker().Reset("s-1")
	clock.Advance(time.Second)

	sig := d.Detect("s-1", userMsg("this is not working"))
	if sig.ShouldForceExit {
		t.Error("reset session must start counting from scratch")
	}
}

func TestDetect_OnlyRecentUserMessageConsidered(t *testing.T) {
	d, _ := newDetector()

	// Frustration is stale: five assistant turns sit on top of it.
	messages := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "this is not working"},
	}
	for i := 0; i < 5; i++ {
		messages = append(messages, models.ConversationTurn{Role: models.RoleAssistant, Content: "..."})
	}

	sig := d.Detect("s-1", messages)
	if sig.Intent != models.ExitNone {
		t.Fatalf("intent = %q, want none for stale user message", sig.Intent)
	}
}

func TestDetect_NoUserMessage(t *testing.T) {
	d, _ := newDetector()
	sig := d.Detect("s-1", nil)
	if sig.Intent != models.ExitNone {
		t.Fatalf("intent = %q, want none", sig.Intent)
	}
}

func TestAnalyzeSentimentTrend(t *testing.T) {
	improving := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "this is terrible"},
		{Role: models.RoleUser, Content: "not helpful at all"},
		{Role: models.RoleUser, Content: "ok that's interesting"},
		{Role: models.RoleUser, Content: "great, thanks, really helpful"},
	}
	if got := exitintent.AnalyzeSentimentTrend(improving); got != models.SentimentImproving {
		t.Errorf("trend = %q, want improving", got)
	}

	declining := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "great, this looks good"},
		{Role: models.RoleUser, Content: "nice, thanks"},
		{Role: models.RoleUser, Content: "hmm, not what I expected"},
		{Role: models.RoleUser, Content: "this is useless, waste of time"},
	}
	if got := exitintent.AnalyzeSentimentTrend(declining); got != models.SentimentDeclining {
		t.Errorf("trend = %q, want declining", got)
	}

	short := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "hello"},
	}
	if got := exitintent.AnalyzeSentimentTrend(short); got != models.SentimentStable {
		t.Errorf("trend = %q, want stable for short window", got)
	}
}
