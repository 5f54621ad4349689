// Package engine coordinates a conversation turn end to end:
//
//	resolve session record → sanitize context → detect corrections →
//	(periodically) extract facts in the background → compute funnel
//	stage → dispatch the stage persona → exit detection → response
//	validation → validated output (or a corrected/blocked substitute).
//
// No unexpected error escapes this package: total pipeline failure
// yields a generic safe fallback with success=false in metadata, never a
// raw error leak.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/closerlabs/convoengine/internal/agents"
	"github.com/closerlabs/convoengine/internal/audit"
	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/internal/correction"
	"github.com/closerlabs/convoengine/internal/exitintent"
	"github.com/closerlabs/convoengine/internal/facts"
	"github.com/closerlabs/convoengine/internal/funnel"
	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/internal/sanitize"
	"github.com/closerlabs/convoengine/internal/store"
	"github.com/closerlabs/convoengine/internal/toolexec"
	"github.com/closerlabs/convoengine/internal/validator"
	"github.com/closerlabs/convoengine/pkg/models"
)

// FallbackMessage is delivered when the pipeline cannot produce a safe
// response for the turn.
const FallbackMessage = "Sorry — I hit a snag on my end. Could you say that again?"

// blockedFallback substitutes a draft that failed validation even after
// regeneration.
const blockedFallback = "Let me double-check the specifics before I quote anything — what matters most to you here?"

// Engine sequences the conversation intelligence pipeline.
type Engine struct {
	store        store.Store
	corrections  *correction.Detector
	exitDetector *exitintent.Detector
	validator    *validator.Validator
	facts        *facts.Extractor
	registry     *agents.Registry
	funnel       *funnel.Machine
	sink         *audit.Sink
	factInterval int
	tracer       trace.Tracer
}

// New wires the engine from config, a store, and a generator.
func New(cfg *config.Config, st store.Store, gen llm.Generator) (*Engine, error) {
	machine, err := funnel.New(cfg.Funnel.QualificationRule)
	if err != nil {
		return nil, fmt.Errorf("funnel machine: %w", err)
	}

	interval := cfg.Funnel.FactExtractionInterval
	if interval <= 0 {
		interval = 3
	}

	sink := audit.NewSink(st)
	exec := toolexec.New(cfg.Tools, sink)

	return &Engine{
		store:        st,
		corrections:  correction.NewDetector(gen),
		exitDetector: exitintent.NewDetector(),
		validator:    validator.New(),
		facts:        facts.NewExtractor(gen, st),
		registry:     agents.NewRegistry(gen, exec),
		funnel:       machine,
		sink:         sink,
		factInterval: interval,
		tracer:       otel.Tracer("convoengine/engine"),
	}, nil
}

// ProcessTurn handles one inbound turn. Always returns a response; on
// total failure the response carries FallbackMessage and success=false.
func (e *Engine) ProcessTurn(ctx context.Context, req *models.TurnRequest) (resp *models.TurnResponse) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.process_turn",
		trace.WithAttributes(attribute.String("session.id", req.SessionID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session", req.SessionID).Msg("Turn pipeline panicked")
			resp = e.fallbackResponse(req, start)
		}
	}()

	rec, fresh, err := e.resolveRecord(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("session", req.SessionID).Msg("Record resolution failed")
		return e.fallbackResponse(req, start)
	}
	if fresh {
		// New session: a reused session id must not inherit exit state.
		e.exitDetector.Tracker().Reset(req.SessionID)
	}

	raw := &rec.Context
	sanitized := sanitize.Sanitize(raw)

	// User corrections are the canonical path to identity confirmation,
	// so they run before the prompt sees the context.
	if msg, ok := lastUserMessage(req.Messages); ok {
		if data := e.corrections.Detect(ctx, msg, sanitized); data != nil {
			correction.ApplyCorrections(raw, data)
			sanitized = sanitize.Sanitize(raw)
			e.sink.Log(ctx, req.SessionID, "correction_applied", map[string]any{
				"identity_confirmed": raw.IdentityConfirmed,
			})
		}
	}

	rec.TurnCount++

	// Background enrichment off the critical path. The dedup prompt needs
	// everything already known about the identity, persisted facts from
	// earlier sessions included.
	if e.factInterval > 0 && rec.TurnCount%e.factInterval == 0 {
		known := append(e.facts.Retrieve(ctx, raw.Email), raw.Facts...)
		e.facts.Dispatch(req.Messages, known, req.SessionID, raw.Email)
	}

	in := agents.TurnInput{
		SessionID: req.SessionID,
		Messages:  req.Messages,
		Context:   sanitized,
	}
	// Retrieved facts are identity-attributed memory and follow the same
	// gate as the context's own facts field.
	if sanitized != nil && sanitized.IdentityConfirmed {
		in.Facts = e.facts.Retrieve(ctx, sanitized.Email)
	}

	stage := e.funnel.ComputeStage(req.Trigger, sanitized)

	exitSignal := e.exitDetector.Detect(req.SessionID, req.Messages)
	if exitSignal.ShouldForceExit {
		stage = models.StageSummary
	}

	agent := e.registry.Select(stage)
	out, err := agent.Respond(ctx, in)
	if err != nil {
		log.Error().Err(err).Str("agent", agent.Name()).Str("session", req.SessionID).Msg("Agent generation failed")
		return e.fallbackResponse(req, start)
	}

	output, issues := e.validateDraft(ctx, agent, in, out, req)

	rec.Stage = stage
	e.persistRecord(ctx, req.SessionID, func(r *models.ContextRecord) {
		r.Context = *raw
		r.Stage = stage
		r.TurnCount = rec.TurnCount
	})

	e.sink.Log(ctx, req.SessionID, "turn_processed", map[string]any{
		"agent":      agent.Name(),
		"stage":      string(stage),
		"exit":       string(exitSignal.Intent),
		"tools_used": out.ToolsUsed,
		"issues":     len(issues),
	})

	meta := models.TurnMetadata{
		LeadScore:        out.LeadScore,
		FitScore:         out.FitScore,
		ToolsUsed:        out.ToolsUsed,
		ValidationIssues: issues,
		Success:          true,
		LatencyMs:        time.Since(start).Milliseconds(),
	}
	if exitSignal.Intent != models.ExitNone {
		sig := exitSignal
		meta.ExitSignal = &sig
	}

	return &models.TurnResponse{
		Output:   output,
		Agent:    agent.Name(),
		Stage:    stage,
		Metadata: meta,
	}
}

// validateDraft runs the response validator, requesting one regeneration
// for a blocked draft before substituting the safe fallback. A
// critical-flagged response is never emitted.
func (e *Engine) validateDraft(ctx context.Context, agent agents.Agent, in agents.TurnInput, out agents.TurnOutput, req *models.TurnRequest) (string, []models.ValidationIssue) {
	question, _ := lastUserMessage(req.Messages)
	vctx := validator.Context{
		ToolsUsed:    out.ToolsUsed,
		UserQuestion: question,
		AgentName:    agent.Name(),
		Stage:        agent.Stage(),
	}

	result := e.validator.Validate(out.Text, vctx)
	if !result.ShouldBlock {
		return e.patchNonCritical(out.Text, result), result.Issues
	}

	log.Warn().Str("agent", agent.Name()).Str("session", req.SessionID).Msg("Draft blocked, regenerating")
	e.sink.Log(ctx, req.SessionID, "response_blocked", map[string]any{
		"agent":  agent.Name(),
		"issues": result.Issues,
	})

	retry, err := agent.Respond(ctx, in)
	if err != nil {
		return blockedFallback, result.Issues
	}
	vctx.ToolsUsed = retry.ToolsUsed
	retryResult := e.validator.Validate(retry.Text, vctx)
	if retryResult.ShouldBlock {
		return blockedFallback, retryResult.Issues
	}
	return e.patchNonCritical(retry.Text, retryResult), retryResult.Issues
}

// patchNonCritical strips identity-leak phrasing from an otherwise
// deliverable draft. Last-resort patch; blocking issues are handled by
// regeneration instead.
func (e *Engine) patchNonCritical(text string, result models.ValidationResult) string {
	for _, issue := range result.Issues {
		if issue.Type == models.IssueIdentityLeak {
			return validator.SanitizeResponse(text)
		}
	}
	return text
}

// resolveRecord loads the session record, creating it on first contact.
func (e *Engine) resolveRecord(ctx context.Context, req *models.TurnRequest) (*models.ContextRecord, bool, error) {
	rec, err := e.store.GetRecord(ctx, req.SessionID)
	if err == nil {
		if req.Context != nil {
			// Inbound research refreshes the stored context, but research
			// never unsets a user assertion: once a correction confirmed
			// the identity, the asserted fields win over refreshed research.
			prev := rec.Context
			rec.Context = *req.Context
			rec.Context.SessionID = req.SessionID
			if prev.IdentityConfirmed {
				rec.Context.IdentityConfirmed = true
				preserveAssertedIdentity(&rec.Context, &prev)
			}
		}
		return rec, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	rec = &models.ContextRecord{
		SessionID: req.SessionID,
		Stage:     models.StageDiscovery,
	}
	if req.Context != nil {
		rec.Context = *req.Context
	}
	rec.Context.SessionID = req.SessionID
	rec.Context.LastUpdated = time.Now().UTC()

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("create record: %w", err)
	}
	return rec, true, nil
}

// preserveAssertedIdentity carries the stored context's identity fields
// over an inbound research refresh. Corrections are the only path to
// IdentityConfirmed, so with the flag set these stored fields are user
// assertions; the set mirrors what a correction can assert.
func preserveAssertedIdentity(next, prev *models.IntelligenceContext) {
	if prev.Name != "" {
		next.Name = prev.Name
	}
	if prev.Role != "" {
		next.Role = prev.Role
	}
	if prev.Company != nil && (prev.Company.Name != "" || prev.Company.Domain != "") {
		if next.Company == nil {
			next.Company = &models.Company{}
		}
		if prev.Company.Name != "" {
			next.Company.Name = prev.Company.Name
		}
		if prev.Company.Domain != "" {
			next.Company.Domain = prev.Company.Domain
		}
	}
	if prev.Person != nil && (prev.Person.FullName != "" || prev.Person.Role != "") {
		if next.Person == nil {
			next.Person = &models.Person{}
		}
		if prev.Person.FullName != "" {
			next.Person.FullName = prev.Person.FullName
		}
		if prev.Person.Role != "" {
			next.Person.Role = prev.Person.Role
		}
	}
}

// persistRecord applies a mutation under optimistic concurrency.
// Storage failures are downgraded: the turn still completes.
func (e *Engine) persistRecord(ctx context.Context, sessionID string, mutate func(*models.ContextRecord)) {
	err := e.store.UpdateRecordWithVersionCheck(ctx, sessionID, func(r *models.ContextRecord) error {
		mutate(r)
		return nil
	}, store.DefaultVersionCheck)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Record persistence failed")
	}
}

func (e *Engine) fallbackResponse(req *models.TurnRequest, start time.Time) *models.TurnResponse {
	return &models.TurnResponse{
		Output: FallbackMessage,
		Agent:  "fallback",
		Stage:  models.StageDiscovery,
		Metadata: models.TurnMetadata{
			Success:   false,
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}
}

func lastUserMessage(messages []models.ConversationTurn) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
