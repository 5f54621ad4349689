package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/internal/engine"
	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/pkg/models"
)

// scriptedGenerator replays queued replies for Generate calls and an
// optional correction for GenerateObject calls. Extraction prompts are
// published on extractionPrompts when set.
type scriptedGenerator struct {
	mu                sync.Mutex
	replies           []string
	err               error
	correction        *models.CorrectionData
	extractionPrompts chan string
}

func (g *scriptedGenerator) Generate(context.Context, string, []models.ConversationTurn, llm.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "Understood.", nil
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

func (g *scriptedGenerator) GenerateObject(_ context.Context, prompt string, v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if data, ok := v.(*models.CorrectionData); ok && g.correction != nil {
		*data = *g.correction
		return nil
	}
	if g.extractionPrompts != nil {
		select {
		case g.extractionPrompts <- prompt:
		default:
		}
	}
	return errors.New("nothing scripted")
}

func testEngine(t *testing.T, gen llm.Generator) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	cfg := &config.Config{
		Tools:  config.ToolsConfig{MaxRetries: 1, InitialWait: time.Millisecond},
		Funnel: config.FunnelConfig{FactExtractionInterval: 3},
	}
	st := store.NewMemoryStore()
	eng, err := engine.New(cfg, st, gen)
	if err != nil {
		t.Fatal(err)
	}
	return eng, st
}

func userTurn(content string) []models.ConversationTurn {
	return []models.ConversationTurn{{Role: models.RoleUser, Content: content}}
}

func hasAudit(st *store.MemoryStore, action string) bool {
	for _, ev := range st.AuditEvents() {
		if ev.Action == action {
			return true
		}
	}
	return false
}

func TestProcessTurn_HappyPath(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Welcome! What brings you in today?"}}
	eng, st := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("hi, just looking around"),
	})

	if resp.Output != "Welcome! What brings you in today?" {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.Agent != "discovery" || resp.Stage != models.StageDiscovery {
		t.Errorf("agent = %q stage = %q, want discovery", resp.Agent, resp.Stage)
	}
	if !resp.Metadata.Success {
		t.Error("success must be true")
	}
	if len(resp.Metadata.ValidationIssues) != 0 {
		t.Errorf("clean response carries issues: %+v", resp.Metadata.ValidationIssues)
	}

	rec, err := st.GetRecord(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TurnCount != 1 {
		t.Errorf("turnCount = %d, want 1", rec.TurnCount)
	}
	if !hasAudit(st, "turn_processed") {
		t.Error("turn_processed audit event missing")
	}
}

func TestProcessTurn_QualifiedContextRoutesToScoring(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Great — who else is involved in the decision?"}}
	eng, _ := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("we have budget set aside"),
		Context: &models.IntelligenceContext{
			Email:   "pat@acme.io",
			Company: &models.Company{Size: "200-500"},
			Person:  &models.Person{Seniority: "VP"},
			Budget:  "$60k",
		},
	})

	if resp.Agent != "scoring" || resp.Stage != models.StageScoring {
		t.Errorf("agent = %q stage = %q, want scoring", resp.Agent, resp.Stage)
	}
	if resp.Metadata.LeadScore == nil || resp.Metadata.FitScore == nil {
		t.Error("scoring turn must surface lead/fit scores")
	}
}

func TestProcessTurn_BookingTriggerRoutesToClosing(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Grab any slot that suits you via the link."}}
	eng, _ := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("let's set up a demo"),
		Context:   &models.IntelligenceContext{Email: "pat@acme.io"},
		Trigger:   models.TriggerBooking,
	})

	if resp.Agent != "closing" || resp.Stage != models.StageClosing {
		t.Errorf("agent = %q stage = %q, want closing", resp.Agent, resp.Stage)
	}
	found := false
	for _, tool := range resp.Metadata.ToolsUsed {
		if tool == "get_booking_link" {
			found = true
		}
	}
	if !found {
		t.Errorf("toolsUsed = %v, want get_booking_link", resp.Metadata.ToolsUsed)
	}
}

func TestProcessTurn_BlockedDraftRegenerated(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"I've booked your meeting for Tuesday",
		"Happy to set that up — grab any time that works for you.",
	}}
	eng, st := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("hello"),
	})

	if resp.Output != "Happy to set that up — grab any time that works for you." {
		t.Errorf("output = %q, want the regenerated draft", resp.Output)
	}
	if !resp.Metadata.Success {
		t.Error("a successfully regenerated turn is still a success")
	}
	if !hasAudit(st, "response_blocked") {
		t.Error("response_blocked audit event missing")
	}
}

func TestProcessTurn_BlockedTwiceSubstitutesSafeFallback(t *testing.T) {
	draft := "You'll see a 340% ROI in month one"
	gen := &scriptedGenerator{replies: []string{draft}}
	eng, _ := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("hello"),
	})

	if resp.Output == draft {
		t.Fatal("critical-flagged draft must never be delivered")
	}
	if resp.Output == "" {
		t.Fatal("a substitute response must still be delivered")
	}
	if len(resp.Metadata.ValidationIssues) == 0 {
		t.Error("blocking issues must be surfaced in metadata")
	}
}

func TestProcessTurn_GeneratorFailureYieldsFallback(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("service down")}
	eng, _ := testEngine(t, gen)

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("hello"),
	})

	if resp.Output != engine.FallbackMessage {
		t.Errorf("output = %q, want the generic fallback", resp.Output)
	}
	if resp.Metadata.Success {
		t.Error("fallback turns must report success=false")
	}
}

func TestProcessTurn_CorrectionConfirmsIdentity(t *testing.T) {
	gen := &scriptedGenerator{
		replies:    []string{"Thanks Jordan! What does your team work on?"},
		correction: &models.CorrectionData{Name: "Jordan", Confidence: 0.9},
	}
	eng, st := testEngine(t, gen)

	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("actually, my name is Jordan"),
	})

	rec, err := st.GetRecord(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Context.Name != "Jordan" {
		t.Errorf("name = %q, want corrected value persisted", rec.Context.Name)
	}
	if !rec.Context.IdentityConfirmed {
		t.Error("identity correction must confirm identity")
	}
	if !hasAudit(st, "correction_applied") {
		t.Error("correction_applied audit event missing")
	}
}

func TestProcessTurn_RepeatedFrustrationForcesSummary(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"Sorry about that — what part is giving you trouble?",
		"Thanks for your patience today. Recapping where we landed.",
	}}
	eng, _ := testEngine(t, gen)

	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("this is not working"),
	})

	resp := eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages: []models.ConversationTurn{
			{Role: models.RoleUser, Content: "this is not working"},
			{Role: models.RoleAssistant, Content: "Sorry about that — what part is giving you trouble?"},
			{Role: models.RoleUser, Content: "this is not working"},
		},
	})

	if resp.Stage != models.StageSummary || resp.Agent != "summary" {
		t.Errorf("stage = %q agent = %q, want forced summary", resp.Stage, resp.Agent)
	}
	if resp.Metadata.ExitSignal == nil || !resp.Metadata.ExitSignal.ShouldForceExit {
		t.Fatalf("exit signal = %+v, want forced exit", resp.Metadata.ExitSignal)
	}
}

func TestProcessTurn_InboundResearchCannotUnconfirmIdentity(t *testing.T) {
	gen := &scriptedGenerator{
		replies:    []string{"Thanks Jordan!", "Got it."},
		correction: &models.CorrectionData{Name: "Jordan", Confidence: 0.9},
	}
	eng, st := testEngine(t, gen)

	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("actually, my name is Jordan"),
	})

	// A later turn arrives with refreshed research that omits the flag
	// and carries its own guess at the name.
	gen.mu.Lock()
	gen.correction = nil
	gen.mu.Unlock()
	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("tell me about pricing plans"),
		Context: &models.IntelligenceContext{
			Email:             "jordan@acme.io",
			Name:              "Pat Researchname",
			IdentityConfirmed: false,
		},
	})

	rec, _ := st.GetRecord(context.Background(), "s-1")
	if !rec.Context.IdentityConfirmed {
		t.Error("automated research must never unset a user assertion")
	}
	if rec.Context.Name != "Jordan" {
		t.Errorf("name = %q, want the user-corrected name to survive a research refresh", rec.Context.Name)
	}
	if rec.Context.Email != "jordan@acme.io" {
		t.Errorf("email = %q, non-asserted fields should still refresh", rec.Context.Email)
	}
}

func TestProcessTurn_ResearchRefreshKeepsAllAssertedIdentityFields(t *testing.T) {
	gen := &scriptedGenerator{
		replies: []string{"Thanks Jordan!", "Got it."},
		correction: &models.CorrectionData{
			Name:           "Jordan",
			Role:           "COO",
			CompanyName:    "Initech",
			PersonFullName: "Jordan Lee",
			Confidence:     0.9,
		},
	}
	eng, st := testEngine(t, gen)

	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("actually, my name is Jordan and I'm the COO at Initech"),
	})

	gen.mu.Lock()
	gen.correction = nil
	gen.mu.Unlock()
	eng.ProcessTurn(context.Background(), &models.TurnRequest{
		SessionID: "s-1",
		Messages:  userTurn("hello again"),
		Context: &models.IntelligenceContext{
			Email:   "jordan@initech.dev",
			Name:    "J. Smith",
			Role:    "Analyst",
			Company: &models.Company{Name: "Smith Consulting", Industry: "Consulting"},
			Person:  &models.Person{FullName: "J. Smith", Seniority: "IC"},
		},
	})

	rec, err := st.GetRecord(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}
	c := rec.Context
	if c.Name != "Jordan" || c.Role != "COO" {
		t.Errorf("name = %q role = %q, want asserted values", c.Name, c.Role)
	}
	if c.Company == nil || c.Company.Name != "Initech" {
		t.Errorf("company = %+v, want asserted name to win", c.Company)
	}
	if c.Company.Industry != "Consulting" {
		t.Error("non-asserted research fields should still refresh")
	}
	if c.Person == nil || c.Person.FullName != "Jordan Lee" {
		t.Errorf("person = %+v, want asserted full name to win", c.Person)
	}
	if c.Person.Seniority != "IC" {
		t.Error("seniority is research territory and should refresh")
	}
}

func TestProcessTurn_ExtractionPromptCarriesPersistedFacts(t *testing.T) {
	gen := &scriptedGenerator{extractionPrompts: make(chan string, 1)}
	eng, st := testEngine(t, gen)

	if err := st.InsertFacts(context.Background(), []models.Fact{
		{Text: "prefers annual billing", Confidence: 0.9, Email: "pat@acme.io", SessionID: "old-session"},
	}); err != nil {
		t.Fatal(err)
	}

	// Extraction dispatches on every third turn.
	messages := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "we renew our contracts in January"},
		{Role: models.RoleAssistant, Content: "Good to know."},
		{Role: models.RoleUser, Content: "and billing flexibility matters to us"},
	}
	for i := 0; i < 3; i++ {
		eng.ProcessTurn(context.Background(), &models.TurnRequest{
			SessionID: "s-1",
			Messages:  messages,
			Context:   &models.IntelligenceContext{Email: "pat@acme.io"},
		})
	}

	select {
	case prompt := <-gen.extractionPrompts:
		if !strings.Contains(prompt, "prefers annual billing") {
			t.Errorf("extraction prompt missing the identity's persisted facts:\n%s", prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("extraction never dispatched")
	}
}
