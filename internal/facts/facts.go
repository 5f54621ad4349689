// Package facts derives atomic durable facts from a conversation window
// and persists them as per-identity semantic memory. Extraction is a
// background enrichment, never part of the response critical path.
package facts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// messageWindow is how many trailing messages feed the extraction prompt.
	messageWindow = 20

	// retrieveLimit caps facts returned for prompt inclusion.
	retrieveLimit = 50

	// minRetrieveConfidence filters low-confidence facts on retrieval.
	minRetrieveConfidence = 0.5

	// extractTimeout bounds a background extraction run.
	extractTimeout = 20 * time.Second
)

// placeholder emails never accumulate memory.
var placeholderEmails = map[string]bool{
	"":                    true,
	"unknown":             true,
	"unknown@unknown.com": true,
	"anonymous@anonymous": true,
	"test@example.com":    true,
}

// Extractor derives and persists facts via the generation service.
type Extractor struct {
	generator llm.Generator
	store     store.FactStore
}

func NewExtractor(g llm.Generator, s store.FactStore) *Extractor {
	return &Extractor{generator: g, store: s}
}

// extractedFact is the generation service's response row.
type extractedFact struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Extract derives new facts from the message window and persists them.
// Fire-and-forget: it never raises to the caller, and Dispatch runs it
// off the turn path entirely. No-ops when the email is absent or a
// placeholder, or when fewer than 2 recent messages exist.
func (e *Extractor) Extract(ctx context.Context, messages []models.ConversationTurn, existingFacts []string, sessionID, email string) {
	if e == nil || e.generator == nil || e.store == nil {
		return
	}
	if placeholderEmails[strings.ToLower(email)] {
		return
	}
	if len(messages) < 2 {
		return
	}

	var rows []extractedFact
	if err := e.generator.GenerateObject(ctx, buildExtractionPrompt(messages, existingFacts), &rows); err != nil {
		log.Debug().Err(err).Str("session", sessionID).Msg("Fact extraction failed")
		return
	}

	var toInsert []models.Fact
	for _, r := range rows {
		text := strings.TrimSpace(r.Fact)
		if text == "" {
			continue
		}
		confidence := r.Confidence
		if confidence == 0 {
			confidence = 0.7
		}
		toInsert = append(toInsert, models.Fact{
			Text:       text,
			Category:   r.Category,
			Confidence: confidence,
			SessionID:  sessionID,
			Email:      email,
			CreatedAt:  time.Now().UTC(),
		})
	}
	if len(toInsert) == 0 {
		return
	}

	if err := e.store.InsertFacts(ctx, toInsert); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Fact persistence failed")
		return
	}

	log.Debug().Int("facts", len(toInsert)).Str("email", email).Msg("Facts extracted")
}

// Dispatch runs Extract on a background goroutine with its own timeout
// and panic boundary. The foreground turn never awaits it.
func (e *Extractor) Dispatch(messages []models.ConversationTurn, existingFacts []string, sessionID, email string) {
	msgs := append([]models.ConversationTurn(nil), messages...)
	facts := append([]string(nil), existingFacts...)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Str("session", sessionID).Msg("Fact extraction panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()
		e.Extract(ctx, msgs, facts, sessionID, email)
	}()
}

// Retrieve fetches up to 50 most-recent facts for the identity across
// all sessions, filtered to confidence ≥ 0.5, as plain strings for
// prompt inclusion.
func (e *Extractor) Retrieve(ctx context.Context, email string) []string {
	if e == nil || e.store == nil || placeholderEmails[strings.ToLower(email)] {
		return nil
	}

	rows, err := e.store.ListFactsByEmail(ctx, email, retrieveLimit)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("Fact retrieval failed")
		return nil
	}

	var out []string
	for _, f := range rows {
		if f.Confidence >= minRetrieveConfidence && f.Text != "" {
			out = append(out, f.Text)
		}
	}
	return out
}

func buildExtractionPrompt(messages []models.ConversationTurn, existingFacts []string) string {
	window := messages
	if len(window) > messageWindow {
		window = window[len(window)-messageWindow:]
	}

	var b strings.Builder
	b.WriteString("Extract atomic, durable facts about the user from this sales conversation. ")
	b.WriteString("A fact is one self-contained statement that stays true beyond this session ")
	b.WriteString("(role, company, needs, constraints, preferences). Skip small talk.\n\n")

	if len(existingFacts) > 0 {
		b.WriteString("Facts already known — do NOT repeat these:\n")
		for _, f := range existingFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString("Conversation:\n")
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	b.WriteString("\nRespond with a JSON array: ")
	b.WriteString(`[{"fact":"...","category":"role|company|need|constraint|preference|other","confidence":0.0}]`)
	b.WriteString("\nReturn [] when there is nothing new.")
	return b.String()
}
