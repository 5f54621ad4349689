package agents

import (
	"context"
	"fmt"

	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/toolexec"
	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/rs/zerolog/log"
)

const promptWindow = 12

// ── Discovery ───────────────────────────────────────────────

type discoveryAgent struct {
	generator llm.Generator
}

func (a *discoveryAgent) Name() string              { return "discovery" }
func (a *discoveryAgent) Stage() models.FunnelStage { return models.StageDiscovery }

func (a *discoveryAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	system := buildSystemPrompt(
		`Stage: DISCOVERY. Learn who they are and what problem brought them
here. Ask one qualifying question at a time (company size, budget,
timeline, decision role). Be curious, not pushy. No pitching yet.`,
		in, nil, nil)

	text, err := a.generator.Generate(ctx, system, messageWindow(in.Messages, promptWindow), llm.Options{})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("discovery generate: %w", err)
	}
	return TurnOutput{Text: text}, nil
}

// ── Scoring ─────────────────────────────────────────────────

type scoringAgent struct {
	generator llm.Generator
	exec      *toolexec.Executor
}

func (a *scoringAgent) Name() string              { return "scoring" }
func (a *scoringAgent) Stage() models.FunnelStage { return models.StageScoring }

func (a *scoringAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	out := TurnOutput{}
	var computed []string

	score := a.exec.Execute(ctx, "score_lead", in.SessionID, a.Name(),
		scoreLeadInputs(in.Context), ScoreLead, true)
	if score.Success {
		out.ToolsUsed = append(out.ToolsUsed, "score_lead")
		if s, ok := score.Data.(LeadScores); ok {
			lead, fit := s.Lead, s.Fit
			out.LeadScore = &lead
			out.FitScore = &fit
			computed = append(computed, fmt.Sprintf("lead score %d/100, fit score %d/100", lead, fit))
		}
	} else {
		log.Debug().Str("session", in.SessionID).Msg("Lead scoring unavailable, continuing without")
	}

	system := buildSystemPrompt(
		`Stage: SCORING. They are qualified. Confirm what you have heard,
probe for the decision process and success criteria, and steer toward
whether a tailored pitch makes sense. Do not quote scores directly;
use them to calibrate your tone.`,
		in, computed, nil)

	text, err := a.generator.Generate(ctx, system, messageWindow(in.Messages, promptWindow), llm.Options{})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("scoring generate: %w", err)
	}
	out.Text = text
	return out, nil
}

// ── Pitching ────────────────────────────────────────────────

type pitchingAgent struct {
	generator llm.Generator
	exec      *toolexec.Executor
}

func (a *pitchingAgent) Name() string              { return "pitching" }
func (a *pitchingAgent) Stage() models.FunnelStage { return models.StagePitching }

func (a *pitchingAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	out := TurnOutput{}
	var computed []string

	// ROI numbers only ever come from the calculator; without a budget
	// there is nothing to compute and the pitch stays qualitative.
	if in.Context != nil && in.Context.Budget != "" {
		roi := a.exec.Execute(ctx, "calculate_roi", in.SessionID, a.Name(),
			map[string]any{"budget": in.Context.Budget, "company_size": companySize(in.Context)},
			CalculateROI, true)
		if roi.Success {
			out.ToolsUsed = append(out.ToolsUsed, "calculate_roi")
			if r, ok := roi.Data.(ROIResult); ok {
				computed = append(computed, fmt.Sprintf(
					"estimated ROI %.0f%% with annual savings of $%.0f", r.ROIPercent, r.AnnualSavings))
			}
		}
	}

	system := buildSystemPrompt(
		`Stage: PITCHING. Deliver a concise value pitch mapped to their
stated problems. Quote figures only from the COMPUTED section; if it is
empty, keep the pitch qualitative. Close with a question that moves
toward booking a demo.`,
		in, computed, nil)

	text, err := a.generator.Generate(ctx, system, messageWindow(in.Messages, promptWindow), llm.Options{})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("pitching generate: %w", err)
	}
	out.Text = text
	return out, nil
}

// ── Closing ─────────────────────────────────────────────────

type closingAgent struct {
	generator llm.Generator
	exec      *toolexec.Executor
}

func (a *closingAgent) Name() string              { return "closing" }
func (a *closingAgent) Stage() models.FunnelStage { return models.StageClosing }

func (a *closingAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	out := TurnOutput{}
	var actions []string

	link := a.exec.Execute(ctx, "get_booking_link", in.SessionID, a.Name(),
		map[string]any{"email": contextEmail(in.Context)}, GetBookingLink, false)
	if link.Success {
		out.ToolsUsed = append(out.ToolsUsed, "get_booking_link")
		if url, ok := link.Data.(string); ok {
			actions = append(actions, "booking link ready: "+url)
		}
	}

	instructions := `Stage: CLOSING. They want to book. Share the booking
link from the ACTIONS section and confirm next steps.`
	if len(actions) == 0 {
		instructions = `Stage: CLOSING. They want to book, but the booking
link is temporarily unavailable. Apologize briefly, promise a follow-up,
and do NOT claim anything was booked or sent.`
	}

	system := buildSystemPrompt(instructions, in, nil, actions)

	text, err := a.generator.Generate(ctx, system, messageWindow(in.Messages, promptWindow), llm.Options{})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("closing generate: %w", err)
	}
	out.Text = text
	return out, nil
}

// ── Summary ─────────────────────────────────────────────────

type summaryAgent struct {
	generator llm.Generator
}

func (a *summaryAgent) Name() string              { return "summary" }
func (a *summaryAgent) Stage() models.FunnelStage { return models.StageSummary }

func (a *summaryAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	system := buildSystemPrompt(
		`Stage: SUMMARY. The conversation is wrapping up. Thank them,
recap what was discussed and agreed in two or three sentences, and name
the next step if one exists. Warm and brief.`,
		in, nil, nil)

	text, err := a.generator.Generate(ctx, system, messageWindow(in.Messages, promptWindow), llm.Options{})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("summary generate: %w", err)
	}
	return TurnOutput{Text: text}, nil
}

// ── Helpers ─────────────────────────────────────────────────

func companySize(c *models.IntelligenceContext) string {
	if c == nil || c.Company == nil {
		return ""
	}
	return c.Company.Size
}

func contextEmail(c *models.IntelligenceContext) string {
	if c == nil {
		return ""
	}
	return c.Email
}

func scoreLeadInputs(c *models.IntelligenceContext) map[string]any {
	in := map[string]any{}
	if c == nil {
		return in
	}
	in["budget"] = c.Budget
	in["timeline"] = c.Timeline
	in["company_size"] = companySize(c)
	if c.Person != nil {
		in["seniority"] = c.Person.Seniority
	}
	in["research_confidence"] = c.ResearchConfidence
	return in
}
