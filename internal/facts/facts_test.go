package facts_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/closerlabs/convoengine/internal/facts"
	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/pkg/models"
)

type fakeGenerator struct {
	objectCalls int
	payload     string
	err         error
	lastPrompt  string
}

func (g *fakeGenerator) Generate(context.Context, string, []models.ConversationTurn, llm.Options) (string, error) {
	return "", errors.New("not used")
}

func (g *fakeGenerator) GenerateObject(_ context.Context, prompt string, v any) error {
	g.objectCalls++
	g.lastPrompt = prompt
	if g.err != nil {
		return g.err
	}
	return json.Unmarshal([]byte(g.payload), v)
}

func conversation() []models.ConversationTurn {
	return []models.ConversationTurn{
		{Role: models.RoleUser, Content: "we're a 200-person logistics company"},
		{Role: models.RoleAssistant, Content: "got it — what brings you here?"},
		{Role: models.RoleUser, Content: "our dispatch process is all spreadsheets"},
	}
}

func TestExtract_PersistsFacts(t *testing.T) {
	g := &fakeGenerator{payload: `[
		{"fact":"runs a 200-person logistics company","category":"company","confidence":0.9},
		{"fact":"dispatch process is manual","category":"need"}
	]`}
	st := store.NewMemoryStore()
	e := facts.NewExtractor(g, st)

	e.Extract(context.Background(), conversation(), nil, "s-1", "pat@acme.io")

	rows, err := st.ListFactsByEmail(context.Background(), "pat@acme.io", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("facts = %d, want 2", len(rows))
	}
	for _, f := range rows {
		if f.Email != "pat@acme.io" || f.SessionID != "s-1" {
			t.Errorf("fact attribution wrong: %+v", f)
		}
		if f.Confidence == 0 {
			t.Error("missing confidence must default, not stay zero")
		}
	}
}

func TestExtract_DefaultConfidence(t *testing.T) {
	g := &fakeGenerator{payload: `[{"fact":"prefers email follow-ups"}]`}
	st := store.NewMemoryStore()
	e := facts.NewExtractor(g, st)

	e.Extract(context.Background(), conversation(), nil, "s-1", "pat@acme.io")

	rows, _ := st.ListFactsByEmail(context.Background(), "pat@acme.io", 10)
	if len(rows) != 1 || rows[0].Confidence != 0.7 {
		t.Fatalf("confidence = %v, want default 0.7", rows)
	}
}

func TestExtract_NoOpConditions(t *testing.T) {
	for _, email := range []string{"", "unknown@unknown.com", "Test@Example.com"} {
		g := &fakeGenerator{payload: `[]`}
		e := facts.NewExtractor(g, store.NewMemoryStore())
		e.Extract(context.Background(), conversation(), nil, "s-1", email)
		if g.objectCalls != 0 {
			t.Errorf("email %q: placeholder identities must not accumulate memory", email)
		}
	}

	g := &fakeGenerator{payload: `[]`}
	e := facts.NewExtractor(g, store.NewMemoryStore())
	e.Extract(context.Background(), conversation()[:1], nil, "s-1", "pat@acme.io")
	if g.objectCalls != 0 {
		t.Error("a single message is not enough conversation to extract from")
	}
}

func TestExtract_SkipsBlankAndFailedRows(t *testing.T) {
	g := &fakeGenerator{payload: `[{"fact":"  "},{"fact":""}]`}
	st := store.NewMemoryStore()
	e := facts.NewExtractor(g, st)

	e.Extract(context.Background(), conversation(), nil, "s-1", "pat@acme.io")
	rows, _ := st.ListFactsByEmail(context.Background(), "pat@acme.io", 10)
	if len(rows) != 0 {
		t.Errorf("blank facts persisted: %+v", rows)
	}

	g = &fakeGenerator{err: errors.New("service down")}
	e = facts.NewExtractor(g, st)
	e.Extract(context.Background(), conversation(), nil, "s-1", "pat@acme.io")
	rows, _ = st.ListFactsByEmail(context.Background(), "pat@acme.io", 10)
	if len(rows) != 0 {
		t.Error("generation failure must persist nothing")
	}
}

func TestExtract_ExistingFactsInPrompt(t *testing.T) {
	g := &fakeGenerator{payload: `[]`}
	e := facts.NewExtractor(g, store.NewMemoryStore())

	e.Extract(context.Background(), conversation(), []string{"already knows pricing"}, "s-1", "pat@acme.io")
	if g.objectCalls != 1 {
		t.Fatal("expected an extraction call")
	}
	if want := "already knows pricing"; !strings.Contains(g.lastPrompt, want) {
		t.Errorf("prompt missing known fact %q", want)
	}
}

func TestRetrieve_FiltersAndCaps(t *testing.T) {
	st := store.NewMemoryStore()
	var toInsert []models.Fact
	for i := 0; i < 60; i++ {
		toInsert = append(toInsert, models.Fact{
			Text:       fmt.Sprintf("fact %d", i),
			Confidence: 0.8,
			Email:      "pat@acme.io",
		})
	}
	toInsert = append(toInsert, models.Fact{Text: "rumor", Confidence: 0.2, Email: "pat@acme.io"})
	if err := st.InsertFacts(context.Background(), toInsert); err != nil {
		t.Fatal(err)
	}

	e := facts.NewExtractor(&fakeGenerator{}, st)
	out := e.Retrieve(context.Background(), "pat@acme.io")
	if len(out) > 50 {
		t.Errorf("retrieved %d facts, want at most 50", len(out))
	}
	for _, f := range out {
		if f == "rumor" {
			t.Error("low-confidence fact leaked through retrieval")
		}
	}
}

func TestRetrieve_PlaceholderEmail(t *testing.T) {
	e := facts.NewExtractor(&fakeGenerator{}, store.NewMemoryStore())
	if out := e.Retrieve(context.Background(), "unknown@unknown.com"); out != nil {
		t.Errorf("placeholder identity must have no memory, got %v", out)
	}
}
