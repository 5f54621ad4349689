// Package toolexec wraps every external tool call an agent makes with
// retry, caching, and audit logging.
//
// Only transient infrastructure errors are retried; policy is that a
// tool either works, fails fast, or fails after bounded backoff — and
// the caller always gets a result envelope back, never an error.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/closerlabs/convoengine/internal/audit"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/pkg/models"
)

// Handler performs the actual tool work.
type Handler func(ctx context.Context, inputs map[string]any) (any, error)

// transientMarkers classify retryable infrastructure failures. Anything
// else fails immediately.
var transientMarkers = []string{
	"network", "timeout", "econnreset", "enotfound", "econnrefused",
	"temporary", "rate limit", "429", "503", "502",
}

// auditPayloadLimit bounds serialized inputs/outputs in audit records.
const auditPayloadLimit = 1000

// Executor runs tool handlers with retry, caching, and audit.
type Executor struct {
	cfg   config.ToolsConfig
	cache *gocache.Cache
	sink  *audit.Sink
}

// New creates an executor. The cache is nil when disabled.
func New(cfg config.ToolsConfig, sink *audit.Sink) *Executor {
	e := &Executor{cfg: cfg, sink: sink}
	if cfg.CacheEnabled {
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		e.cache = gocache.New(ttl, 2*ttl)
	}
	return e
}

// Execute runs a tool call. The returned envelope always describes what
// happened; failures are recoverable data, not errors — the calling
// agent decides whether to apologize, retry at a higher level, or
// degrade.
func (e *Executor) Execute(ctx context.Context, toolName, sessionID, agent string, inputs map[string]any, handler Handler, cacheable bool) models.ToolExecution {
	start := time.Now()
	exec := models.ToolExecution{
		ToolName:  toolName,
		SessionID: sessionID,
		Agent:     agent,
	}

	key := cacheKey(toolName, inputs)
	if cacheable && e.cache != nil {
		if data, found := e.cache.Get(key); found {
			exec.Success = true
			exec.Data = data
			exec.Cached = true
			exec.Attempt = 0
			exec.DurationMs = time.Since(start).Milliseconds()
			log.Debug().Str("tool", toolName).Str("session", sessionID).Msg("Tool cache hit")
			e.auditRecord(ctx, exec, inputs)
			return exec
		}
	}

	data, attempt, err := e.callWithRetry(ctx, handler, inputs)
	exec.Attempt = attempt
	exec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		exec.Success = false
		exec.Error = err.Error()
		log.Warn().
			Str("tool", toolName).
			Str("agent", agent).
			Int("attempt", attempt).
			Err(err).
			Msg("Tool call failed")
		e.auditRecord(ctx, exec, inputs)
		return exec
	}

	exec.Success = true
	exec.Data = data
	if cacheable && e.cache != nil {
		e.cache.SetDefault(key, data)
	}
	e.auditRecord(ctx, exec, inputs)
	return exec
}

// callWithRetry invokes the handler through exponential backoff (1s
// initial, ×2), retrying only transient errors up to MaxRetries total
// attempts. Returns the attempt count that produced the outcome.
func (e *Executor) callWithRetry(ctx context.Context, handler Handler, inputs map[string]any) (any, int, error) {
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	initial := e.cfg.InitialWait
	if initial <= 0 {
		initial = time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	attempt := 0
	var result any

	operation := func() error {
		attempt++
		data, err := handler(ctx, inputs)
		if err != nil {
			if !isTransient(err) || attempt >= maxRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		result = data
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, attempt, err
	}
	return result, attempt, nil
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// cacheKey builds a deterministic key from the tool name and the
// sorted-key JSON of inputs. json.Marshal sorts map keys, which is what
// makes the key deterministic.
func cacheKey(toolName string, inputs map[string]any) string {
	raw, err := json.Marshal(inputs)
	if err != nil {
		raw = []byte("{}")
	}
	return toolName + ":" + string(raw)
}

// auditRecord writes the call's audit trail. Wrapped in its own recover
// so a logging failure can never fail the tool call itself.
func (e *Executor) auditRecord(ctx context.Context, exec models.ToolExecution, inputs map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("tool", exec.ToolName).Msg("Tool audit panicked")
		}
	}()

	if e.sink == nil {
		return
	}

	e.sink.Log(ctx, exec.SessionID, "tool_executed", map[string]any{
		"tool":        exec.ToolName,
		"agent":       exec.Agent,
		"success":     exec.Success,
		"error":       exec.Error,
		"duration_ms": exec.DurationMs,
		"cached":      exec.Cached,
		"attempt":     exec.Attempt,
		"inputs":      truncatePayload(inputs),
		"outputs":     truncatePayload(exec.Data),
	})
}

// truncatePayload replaces oversized objects with a size marker to bound
// audit log growth.
func truncatePayload(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"_unserializable": true}
	}
	if len(raw) > auditPayloadLimit {
		return map[string]any{"_truncated": true, "_size": len(raw)}
	}
	return v
}
