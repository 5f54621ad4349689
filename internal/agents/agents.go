// Package agents implements the specialized personas that respond at
// each funnel stage. Every persona builds its prompt from the sanitized
// context plus retrieved facts, and routes side-effecting operations
// through the tool executor so the validator can verify claims against
// tools actually used.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/toolexec"
	"github.com/closerlabs/convoengine/pkg/models"
)

// TurnInput is what a persona sees for one turn.
type TurnInput struct {
	SessionID string
	Messages  []models.ConversationTurn
	Context   *models.IntelligenceContext // sanitized
	Facts     []string
}

// TurnOutput is a persona's draft response plus the tools it used.
type TurnOutput struct {
	Text      string
	ToolsUsed []string
	LeadScore *int
	FitScore  *int
}

// Agent is a stage-bound persona.
type Agent interface {
	Name() string
	Stage() models.FunnelStage
	Respond(ctx context.Context, in TurnInput) (TurnOutput, error)
}

// Registry selects the persona for a stage.
type Registry struct {
	byStage map[models.FunnelStage]Agent
}

// NewRegistry wires the five stage personas.
func NewRegistry(g llm.Generator, exec *toolexec.Executor) *Registry {
	r := &Registry{byStage: make(map[models.FunnelStage]Agent)}
	for _, a := range []Agent{
		&discoveryAgent{generator: g},
		&scoringAgent{generator: g, exec: exec},
		&pitchingAgent{generator: g, exec: exec},
		&closingAgent{generator: g, exec: exec},
		&summaryAgent{generator: g},
	} {
		r.byStage[a.Stage()] = a
	}
	return r
}

// Select returns the persona for a stage, falling back to discovery.
func (r *Registry) Select(stage models.FunnelStage) Agent {
	if a, ok := r.byStage[stage]; ok {
		return a
	}
	return r.byStage[models.StageDiscovery]
}

// ── Shared Prompt Construction ──────────────────────────────

const personaPreamble = `You are Sam, a sharp and personable sales consultant for the product.
Stay in character at all times. Never mention models, vendors, or that you
are automated. Never invent numbers: figures may only be quoted when they
appear in the COMPUTED section below. Never claim to have booked, sent,
or created anything unless the ACTIONS section says so.`

// buildSystemPrompt renders the shared context block every persona
// prepends to its stage instructions.
func buildSystemPrompt(stageInstructions string, in TurnInput, computed []string, actions []string) string {
	var b strings.Builder
	b.WriteString(personaPreamble)
	b.WriteString("\n\n")
	b.WriteString(stageInstructions)

	if c := in.Context; c != nil {
		b.WriteString("\n\nWhat we know about the counterpart:\n")
		if c.Name != "" {
			fmt.Fprintf(&b, "- name: %s\n", c.Name)
		}
		if c.Company != nil {
			if c.Company.Name != "" {
				fmt.Fprintf(&b, "- company: %s\n", c.Company.Name)
			}
			if c.Company.Domain != "" {
				fmt.Fprintf(&b, "- company domain: %s\n", c.Company.Domain)
			}
			if c.Company.Size != "" {
				fmt.Fprintf(&b, "- company size: %s\n", c.Company.Size)
			}
			if c.Company.Industry != "" {
				fmt.Fprintf(&b, "- industry: %s\n", c.Company.Industry)
			}
		}
		if c.Person != nil {
			if c.Person.Role != "" {
				fmt.Fprintf(&b, "- role: %s\n", c.Person.Role)
			}
			if c.Person.Seniority != "" {
				fmt.Fprintf(&b, "- seniority: %s\n", c.Person.Seniority)
			}
		}
		if c.Budget != "" {
			fmt.Fprintf(&b, "- budget: %s\n", c.Budget)
		}
		if c.Timeline != "" {
			fmt.Fprintf(&b, "- timeline: %s\n", c.Timeline)
		}
		if c.CurrentObjection != "" {
			fmt.Fprintf(&b, "- current objection: %s\n", c.CurrentObjection)
		}
	}

	if len(in.Facts) > 0 {
		b.WriteString("\nRemembered from earlier conversations:\n")
		for _, f := range in.Facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(computed) > 0 {
		b.WriteString("\nCOMPUTED (verified figures you may quote):\n")
		for _, c := range computed {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if len(actions) > 0 {
		b.WriteString("\nACTIONS (performed this turn, you may reference them):\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	return b.String()
}

// messageWindow trims the conversation to the trailing n turns.
func messageWindow(messages []models.ConversationTurn, n int) []models.ConversationTurn {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
