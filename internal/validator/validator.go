// Package validator scans generated agent responses for policy
// violations before they reach the user.
//
// Checks:
//   - fabricated_roi: specific numbers must be provably computed, not
//     inferred by the generator (critical)
//   - false_booking_claim: booking claims require a booking tool call
//     this turn (critical)
//   - identity_leak: the system always presents as the product persona
//     (error)
//   - hallucinated_action: claimed emails/artifacts require a tool call
//     this turn (error)
//   - skipped_question: the draft should engage with a direct user
//     question (warning)
//
// Only critical issues block delivery; error/warning issues are logged
// and delivered. Rules live in declarative tables so policy changes do
// not require code changes.
package validator

import (
	"regexp"
	"strings"

	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/rs/zerolog/log"
)

// Context describes the turn a draft response belongs to.
type Context struct {
	ToolsUsed    []string
	UserQuestion string
	AgentName    string
	Stage        models.FunnelStage
}

// rule is one policy pattern. A match raises Issue unless one of
// ExemptTools was used this turn.
type rule struct {
	Pattern     *regexp.Regexp
	Issue       models.IssueType
	Severity    models.Severity
	ExemptTools []string
	Detail      string
}

// ── Policy Tables ───────────────────────────────────────────

var roiRules = []rule{
	{
		Pattern:     regexp.MustCompile(`\b\d+(\.\d+)?\s*%`),
		Issue:       models.IssueFabricatedROI,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"calculate_roi"},
		Detail:      "percentage claim without ROI calculation",
	},
	{
		Pattern:     regexp.MustCompile(`\$\s*[\d,]+(\.\d+)?\b`),
		Issue:       models.IssueFabricatedROI,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"calculate_roi"},
		Detail:      "dollar figure without ROI calculation",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)save\s+up\s+to\b`),
		Issue:       models.IssueFabricatedROI,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"calculate_roi"},
		Detail:      "savings claim without ROI calculation",
	},
}

var bookingRules = []rule{
	{
		Pattern:     regexp.MustCompile(`(?i)\b(i've|i have|i)\s+(booked|scheduled)\b`),
		Issue:       models.IssueFalseBookingClaim,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"get_booking_link", "book_meeting"},
		Detail:      "booking claim without booking tool",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\b(booked|scheduled)\s+(your|the|a)\s+(meeting|call|demo|appointment)\b`),
		Issue:       models.IssueFalseBookingClaim,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"get_booking_link", "book_meeting"},
		Detail:      "booking claim without booking tool",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\bsent\s+(you\s+)?(a\s+)?calendar\s+invite\b`),
		Issue:       models.IssueFalseBookingClaim,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"get_booking_link", "book_meeting"},
		Detail:      "calendar invite claim without booking tool",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\badded\s+(it\s+)?to\s+your\s+calendar\b`),
		Issue:       models.IssueFalseBookingClaim,
		Severity:    models.SeverityCritical,
		ExemptTools: []string{"get_booking_link", "book_meeting"},
		Detail:      "calendar claim without booking tool",
	},
}

var identityLeakRules = []rule{
	{
		Pattern:  regexp.MustCompile(`(?i)\b(as\s+an?\s+)?(AI|artificial\s+intelligence)(\s+(language\s+)?(model|assistant))\b`),
		Issue:    models.IssueIdentityLeak,
		Severity: models.SeverityError,
		Detail:   "self-identification as a model",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)\bI\s*('?m|\s+am)\s+an?\s+AI\b`),
		Issue:    models.IssueIdentityLeak,
		Severity: models.SeverityError,
		Detail:   "self-identification as a model",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)\blanguage\s+model\b`),
		Issue:    models.IssueIdentityLeak,
		Severity: models.SeverityError,
		Detail:   "self-identification as a model",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)\b(ChatGPT|GPT-[45][a-z0-9.\-]*|OpenAI|Claude|Anthropic|Gemini)\b`),
		Issue:    models.IssueIdentityLeak,
		Severity: models.SeverityError,
		Detail:   "vendor name in response",
	},
}

var hallucinatedActionRules = []rule{
	{
		Pattern:     regexp.MustCompile(`(?i)\b(i've|i have|i)\s+(sent|emailed)\s+(you\s+)?(an?\s+|the\s+)?(email|document|proposal|contract|report|pdf)\b`),
		Issue:       models.IssueHallucinatedAction,
		Severity:    models.SeverityError,
		ExemptTools: []string{"send_email"},
		Detail:      "email claim without send_email tool",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\b(i've|i have|i)\s+(created|generated|prepared)\s+(a|an|the|your)\s+(document|proposal|report|contract|pdf)\b`),
		Issue:       models.IssueHallucinatedAction,
		Severity:    models.SeverityError,
		ExemptTools: []string{"create_document"},
		Detail:      "artifact claim without create_document tool",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\bcheck\s+your\s+(inbox|email)\b`),
		Issue:       models.IssueHallucinatedAction,
		Severity:    models.SeverityError,
		ExemptTools: []string{"send_email"},
		Detail:      "inbox claim without send_email tool",
	},
}

// ── Validator ───────────────────────────────────────────────

type Validator struct{}

func New() *Validator { return &Validator{} }

// Validate runs all five scans against a draft response.
func (v *Validator) Validate(response string, vctx Context) models.ValidationResult {
	var issues []models.ValidationIssue

	issues = appendMatches(issues, roiRules, response, vctx.ToolsUsed)
	issues = appendMatches(issues, bookingRules, response, vctx.ToolsUsed)
	issues = appendMatches(issues, identityLeakRules, response, vctx.ToolsUsed)
	issues = appendMatches(issues, hallucinatedActionRules, response, vctx.ToolsUsed)

	if issue, ok := checkSkippedQuestion(vctx.UserQuestion, response); ok {
		issues = append(issues, issue)
	}

	result := buildResult(issues)
	if len(result.Issues) > 0 {
		log.Warn().
			Str("agent", vctx.AgentName).
			Str("stage", string(vctx.Stage)).
			Int("issues", len(result.Issues)).
			Bool("blocked", result.ShouldBlock).
			Msg("Response validation found issues")
	}
	return result
}

// Quick runs only the two critical scans for latency-sensitive paths.
func (v *Validator) Quick(response string, toolsUsed []string) models.ValidationResult {
	var issues []models.ValidationIssue
	issues = appendMatches(issues, roiRules, response, toolsUsed)
	issues = appendMatches(issues, bookingRules, response, toolsUsed)
	return buildResult(issues)
}

// SanitizeResponse strips identity-leak phrases in place. Last-resort
// patch when regeneration is not available; regeneration is preferred
// upstream.
func SanitizeResponse(response string) string {
	out := response
	for _, r := range identityLeakRules {
		out = r.Pattern.ReplaceAllString(out, "")
	}
	out = regexp.MustCompile(`[ \t]{2,}`).ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func buildResult(issues []models.ValidationIssue) models.ValidationResult {
	result := models.ValidationResult{
		IsValid: len(issues) == 0,
		Issues:  issues,
	}
	for _, issue := range issues {
		if issue.Severity == models.SeverityCritical {
			result.ShouldBlock = true
			break
		}
	}
	return result
}

// appendMatches evaluates a rule table, raising at most one issue per
// issue type.
func appendMatches(issues []models.ValidationIssue, rules []rule, response string, toolsUsed []string) []models.ValidationIssue {
	for _, r := range rules {
		if hasIssue(issues, r.Issue) {
			break
		}
		if exempted(r.ExemptTools, toolsUsed) {
			continue
		}
		if r.Pattern.MatchString(response) {
			issues = append(issues, models.ValidationIssue{
				Type:     r.Issue,
				Severity: r.Severity,
				Detail:   r.Detail,
			})
		}
	}
	return issues
}

func hasIssue(issues []models.ValidationIssue, t models.IssueType) bool {
	for _, i := range issues {
		if i.Type == t {
			return true
		}
	}
	return false
}

func exempted(exemptTools, toolsUsed []string) bool {
	for _, e := range exemptTools {
		for _, u := range toolsUsed {
			if e == u {
				return true
			}
		}
	}
	return false
}

// ── Skipped Question ────────────────────────────────────────

var interrogativeStarts = []string{
	"what", "how", "why", "when", "where", "who", "which",
	"can", "could", "do", "does", "did", "is", "are", "will", "would", "should",
	"tell", "explain", "describe", "give", "show",
}

var stopWords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "does": true, "this": true, "that": true,
	"with": true, "your": true, "yours": true, "about": true, "have": true,
	"will": true, "would": true, "could": true, "should": true, "there": true,
	"their": true, "they": true, "from": true, "into": true, "much": true,
	"many": true, "more": true, "some": true, "like": true, "want": true,
	"need": true, "tell": true, "know": true, "please": true,
}

// checkSkippedQuestion flags drafts that fail to engage with a direct
// user question: fewer than min(2, keyTermCount) significant terms
// shared between question and response.
func checkSkippedQuestion(question, response string) (models.ValidationIssue, bool) {
	if !isDirectQuestion(question) {
		return models.ValidationIssue{}, false
	}

	terms := keyTerms(question)
	if len(terms) == 0 {
		return models.ValidationIssue{}, false
	}

	required := 2
	if len(terms) < required {
		required = len(terms)
	}

	lower := strings.ToLower(response)
	shared := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			shared++
		}
	}

	if shared < required {
		return models.ValidationIssue{
			Type:     models.IssueSkippedQuestion,
			Severity: models.SeverityWarning,
			Detail:   "response does not engage with the user's question",
		}, true
	}
	return models.ValidationIssue{}, false
}

func isDirectQuestion(question string) bool {
	q := strings.TrimSpace(strings.ToLower(question))
	if q == "" {
		return false
	}
	if strings.HasSuffix(q, "?") {
		return true
	}
	first := q
	if i := strings.IndexAny(q, " \t"); i > 0 {
		first = q[:i]
	}
	for _, w := range interrogativeStarts {
		if first == w {
			return true
		}
	}
	return false
}

func keyTerms(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) > 3 && !stopWords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}
