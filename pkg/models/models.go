// Package models defines the shared domain types for the conversation
// intelligence engine: the funnel stage machine, the intelligence context
// gathered about a counterpart, exit signals, semantic memory facts, and
// the validation/tool/turn envelopes exchanged between components.
package models

import (
	"strings"
	"time"
)

// ── Conversation ─────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is a single message in the session log.
// Immutable once appended; the caller owns the log.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Funnel Stages ────────────────────────────────────────────

// FunnelStage is where the conversation sits in the sales funnel.
// It is recomputed every turn from (trigger, sanitized context);
// the stored stage exists only for continuity display.
type FunnelStage string

const (
	StageDiscovery FunnelStage = "discovery"
	StageScoring   FunnelStage = "scoring"
	StagePitching  FunnelStage = "pitching"
	StageClosing   FunnelStage = "closing"
	StageSummary   FunnelStage = "summary"
)

// Trigger is an explicit routing hint supplied with an inbound turn.
type Trigger string

const (
	TriggerNone            Trigger = ""
	TriggerConversationEnd Trigger = "conversation_end"
	TriggerBooking         Trigger = "booking"
	TriggerAdmin           Trigger = "admin"
)

// ── Intelligence Context ─────────────────────────────────────

// Company describes the counterpart's organization. Name, industry,
// summary, website and LinkedIn are identity-attributed research output
// and are gated behind IdentityConfirmed by the sanitizer; domain and
// size are not.
type Company struct {
	Domain        string `json:"domain,omitempty"`
	Name          string `json:"name,omitempty"`
	Industry      string `json:"industry,omitempty"`
	Size          string `json:"size,omitempty"`
	EmployeeCount int    `json:"employee_count,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Website       string `json:"website,omitempty"`
	LinkedIn      string `json:"linkedin,omitempty"`
}

// Person describes the individual counterpart. FullName, Role and
// ProfileURL are identity-attributed; Seniority is not.
type Person struct {
	FullName   string `json:"full_name,omitempty"`
	Role       string `json:"role,omitempty"`
	Seniority  string `json:"seniority,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Citation is a research source reference.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Research holds the raw research trail for the context.
type Research struct {
	Citations []Citation `json:"citations,omitempty"`
}

// ProfileIdentity records whether automated research resolved the
// counterpart's profile to a verified identity.
type ProfileIdentity struct {
	Verified bool   `json:"verified"`
	Source   string `json:"source,omitempty"`
}

// Profile is the enriched research profile of the counterpart.
type Profile struct {
	Identity ProfileIdentity `json:"identity"`
	Headline string          `json:"headline,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

// IntelligenceContext is the partially-untrusted record describing the
// counterpart. Fields derived from automated research must never reach
// a generation call unless IdentityConfirmed is true; the sanitizer
// enforces that invariant. Created on first contact, updated by the
// sanitizer's output and explicit user corrections, archived externally.
type IntelligenceContext struct {
	SessionID string `json:"session_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`

	// IdentityConfirmed is flipped only by an explicit user assertion
	// (a correction carrying an identity-bearing field). Automated
	// research confidence alone never sets it.
	IdentityConfirmed bool `json:"identity_confirmed"`

	Company *Company `json:"company,omitempty"`
	Person  *Person  `json:"person,omitempty"`
	Role    string   `json:"role,omitempty"`

	ResearchConfidence float64 `json:"research_confidence"`
	RoleConfidence     float64 `json:"role_confidence,omitempty"`

	Location *Location `json:"location,omitempty"`
	Research *Research `json:"research,omitempty"`
	Profile  *Profile  `json:"profile,omitempty"`

	StrategicContext string   `json:"strategic_context,omitempty"`
	Facts            []string `json:"facts,omitempty"`

	// Progression fields: affect funnel movement, carry no
	// impersonation risk, always survive sanitization.
	LeadScore        *int   `json:"lead_score,omitempty"`
	FitScore         *int   `json:"fit_score,omitempty"`
	Budget           string `json:"budget,omitempty"`
	Timeline         string `json:"timeline,omitempty"`
	InterestLevel    string `json:"interest_level,omitempty"`
	CurrentObjection string `json:"current_objection,omitempty"`
	CalendarBooked   bool   `json:"calendar_booked,omitempty"`
	PitchDelivered   bool   `json:"pitch_delivered,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// EmailDomain returns the domain part of the context's email, or "".
func (c *IntelligenceContext) EmailDomain() string {
	if c == nil {
		return ""
	}
	if i := strings.LastIndex(c.Email, "@"); i >= 0 && i < len(c.Email)-1 {
		return c.Email[i+1:]
	}
	return ""
}

// ── Exit Signals ─────────────────────────────────────────────

type ExitIntent string

const (
	ExitNone        ExitIntent = ""
	ExitBooking     ExitIntent = "booking"
	ExitWrapUp      ExitIntent = "wrap_up"
	ExitFrustration ExitIntent = "frustration"
	ExitForce       ExitIntent = "force_exit"
)

// ExitSignal is the outcome of exit-intent detection for one turn.
type ExitSignal struct {
	Intent          ExitIntent `json:"intent"`
	Confidence      float64    `json:"confidence"`
	ShouldForceExit bool       `json:"should_force_exit"`
	MatchedPhrase   string     `json:"matched_phrase,omitempty"`
}

// SentimentTrend compares first-half vs second-half user sentiment.
type SentimentTrend string

const (
	SentimentImproving SentimentTrend = "improving"
	SentimentDeclining SentimentTrend = "declining"
	SentimentStable    SentimentTrend = "stable"
)

// ── Semantic Memory ──────────────────────────────────────────

// Fact is an atomic durable statement about an identity. Facts are owned
// by the email, not the session: they persist across future sessions.
type Fact struct {
	Text       string    `json:"text" db:"fact_text"`
	Category   string    `json:"category,omitempty" db:"category"`
	Confidence float64   `json:"confidence" db:"confidence"`
	SessionID  string    `json:"session_id" db:"session_id"`
	Email      string    `json:"email" db:"email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ── Response Validation ──────────────────────────────────────

type IssueType string

const (
	IssueFabricatedROI      IssueType = "fabricated_roi"
	IssueFalseBookingClaim  IssueType = "false_booking_claim"
	IssueSkippedQuestion    IssueType = "skipped_question"
	IssueHallucinatedAction IssueType = "hallucinated_action"
	IssueIdentityLeak       IssueType = "identity_leak"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ValidationIssue is a single policy violation found in a draft response.
// Violations are values, never errors: non-critical issues are delivered
// and logged, critical issues block delivery.
type ValidationIssue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail,omitempty"`
}

// ValidationResult is the outcome of scanning one draft response.
type ValidationResult struct {
	IsValid     bool              `json:"is_valid"`
	Issues      []ValidationIssue `json:"issues"`
	ShouldBlock bool              `json:"should_block"`
}

// ── Corrections ──────────────────────────────────────────────

// CorrectionData carries fields the user explicitly corrected in their
// message. Only populated fields are merged; any identity-bearing field
// present flips IdentityConfirmed.
type CorrectionData struct {
	Name           string  `json:"name,omitempty"`
	Role           string  `json:"role,omitempty"`
	CompanyName    string  `json:"company_name,omitempty"`
	CompanyDomain  string  `json:"company_domain,omitempty"`
	PersonFullName string  `json:"person_full_name,omitempty"`
	PersonRole     string  `json:"person_role,omitempty"`
	Budget         string  `json:"budget,omitempty"`
	Timeline       string  `json:"timeline,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// HasIdentityField reports whether the correction asserts who the
// counterpart is (as opposed to progression details like budget).
func (c *CorrectionData) HasIdentityField() bool {
	if c == nil {
		return false
	}
	return c.Name != "" || c.Role != "" || c.CompanyName != "" ||
		c.CompanyDomain != "" || c.PersonFullName != "" || c.PersonRole != ""
}

// ── Tool Execution ───────────────────────────────────────────

// ToolExecution is the envelope returned by the tool executor for every
// call, successful or not.
type ToolExecution struct {
	ToolName   string `json:"tool_name"`
	SessionID  string `json:"session_id"`
	Agent      string `json:"agent"`
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Cached     bool   `json:"cached"`
	Attempt    int    `json:"attempt"`
}

// ── Turn Envelope ────────────────────────────────────────────

// TurnRequest is one inbound conversation turn plus its raw context.
type TurnRequest struct {
	SessionID string               `json:"session_id"`
	Messages  []ConversationTurn   `json:"messages"`
	Context   *IntelligenceContext `json:"context,omitempty"`
	Trigger   Trigger              `json:"trigger,omitempty"`
}

// TurnMetadata is observability data attached to a turn response.
type TurnMetadata struct {
	LeadScore        *int              `json:"lead_score,omitempty"`
	FitScore         *int              `json:"fit_score,omitempty"`
	ToolsUsed        []string          `json:"tools_used,omitempty"`
	ValidationIssues []ValidationIssue `json:"validation_issues,omitempty"`
	ExitSignal       *ExitSignal       `json:"exit_signal,omitempty"`
	Success          bool              `json:"success"`
	LatencyMs        int64             `json:"latency_ms"`
}

// TurnResponse is the validated (or substituted) output returned to the
// HTTP layer for delivery.
type TurnResponse struct {
	Output   string       `json:"output"`
	Agent    string       `json:"agent"`
	Stage    FunnelStage  `json:"stage"`
	Metadata TurnMetadata `json:"metadata"`
}

// ── Context Records ──────────────────────────────────────────

// ContextRecord is the persisted per-session state. Version backs the
// optimistic-concurrency update path.
type ContextRecord struct {
	SessionID string              `json:"session_id" db:"session_id"`
	Context   IntelligenceContext `json:"context" db:"context"`
	Stage     FunnelStage         `json:"stage" db:"stage"`
	TurnCount int                 `json:"turn_count" db:"turn_count"`
	Version   int64               `json:"version" db:"version"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// ── Audit Events ─────────────────────────────────────────────

// AuditEvent records an auditable engine action. Persistence is
// best-effort: a failed audit write never fails the turn.
type AuditEvent struct {
	ID        string         `json:"id" db:"id"`
	SessionID string         `json:"session_id" db:"session_id"`
	Action    string         `json:"action" db:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}
