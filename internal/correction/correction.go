// Package correction detects explicit user corrections to the
// intelligence context ("actually, my name is…") and merges them back.
//
// A user-asserted correction is the canonical way IdentityConfirmed
// becomes true: automated research never flips it.
package correction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/closerlabs/convoengine/internal/llm"
	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/rs/zerolog/log"
)

// minConfidence discards low-confidence classifications.
const minConfidence = 0.3

// preFilterPatterns is the cheap gate that avoids a generation call when
// the message clearly contains no correction.
var preFilterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthat'?s\s+(wrong|incorrect|not\s+right)\b`),
	regexp.MustCompile(`(?i)\bactually\s*,`),
	regexp.MustCompile(`(?i)\bmy\s+name\s+is\b`),
	regexp.MustCompile(`(?i)\bi'?m\s+not\b`),
	regexp.MustCompile(`(?i)\bi\s+(actually\s+)?work\s+(at|for)\b`),
	regexp.MustCompile(`(?i)\bmy\s+(role|title|company|budget|timeline)\s+is\b`),
	regexp.MustCompile(`(?i)\bno\s*,\s*(i|my|it)`),
	regexp.MustCompile(`(?i)\bcorrection\b`),
}

// Detector classifies candidate corrections via the generation service.
type Detector struct {
	generator llm.Generator
}

func NewDetector(g llm.Generator) *Detector {
	return &Detector{generator: g}
}

// Detect returns extracted corrections for a user message, or nil when
// none were found. Any parse or generation failure is treated as "no
// correction detected" — this path never raises.
func (d *Detector) Detect(ctx context.Context, userMessage string, current *models.IntelligenceContext) *models.CorrectionData {
	if strings.TrimSpace(userMessage) == "" || d.generator == nil {
		return nil
	}

	// Existing asserted identity still warrants a classification pass:
	// the user may be amending what they already told us.
	if !matchesPreFilter(userMessage) && !hasAssertedIdentity(current) {
		return nil
	}

	var data models.CorrectionData
	if err := d.generator.GenerateObject(ctx, buildPrompt(userMessage, current), &data); err != nil {
		log.Debug().Err(err).Msg("Correction classification failed, treating as no correction")
		return nil
	}

	if data.Confidence < minConfidence {
		return nil
	}
	if data == (models.CorrectionData{Confidence: data.Confidence}) {
		return nil
	}
	return &data
}

func matchesPreFilter(message string) bool {
	for _, re := range preFilterPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func hasAssertedIdentity(c *models.IntelligenceContext) bool {
	return c != nil && c.IdentityConfirmed
}

func buildPrompt(userMessage string, current *models.IntelligenceContext) string {
	var b strings.Builder
	b.WriteString("Extract ONLY fields the user explicitly corrects or asserts about themselves in the message below. ")
	b.WriteString("Do not infer. Omit fields that are not explicitly stated.\n\n")
	b.WriteString("Respond with a JSON object of this shape:\n")
	b.WriteString(`{"name":"","role":"","company_name":"","company_domain":"","person_full_name":"","person_role":"","budget":"","timeline":"","confidence":0.0}`)
	b.WriteString("\n\nconfidence is your certainty in [0,1] that the message contains a correction.\n")

	if current != nil {
		b.WriteString("\nCurrent context:\n")
		if current.Name != "" {
			fmt.Fprintf(&b, "- name: %s\n", current.Name)
		}
		if current.Role != "" {
			fmt.Fprintf(&b, "- role: %s\n", current.Role)
		}
		if current.Company != nil && current.Company.Name != "" {
			fmt.Fprintf(&b, "- company: %s\n", current.Company.Name)
		}
	}

	fmt.Fprintf(&b, "\nUser message:\n%s\n", userMessage)
	return b.String()
}

// ── Merge ───────────────────────────────────────────────────

// ApplyCorrections merges a correction into the context, flipping
// IdentityConfirmed whenever any identity-bearing field is present.
// Idempotent: applying the same correction twice yields the same context.
func ApplyCorrections(c *models.IntelligenceContext, data *models.CorrectionData) *models.IntelligenceContext {
	if c == nil || data == nil {
		return c
	}

	if data.Name != "" {
		c.Name = data.Name
	}
	if data.Role != "" {
		c.Role = data.Role
	}
	if data.CompanyName != "" || data.CompanyDomain != "" {
		if c.Company == nil {
			c.Company = &models.Company{}
		}
		if data.CompanyName != "" {
			c.Company.Name = data.CompanyName
		}
		if data.CompanyDomain != "" {
			c.Company.Domain = data.CompanyDomain
		}
	}
	if data.PersonFullName != "" || data.PersonRole != "" {
		if c.Person == nil {
			c.Person = &models.Person{}
		}
		if data.PersonFullName != "" {
			c.Person.FullName = data.PersonFullName
		}
		if data.PersonRole != "" {
			c.Person.Role = data.PersonRole
		}
	}
	if data.Budget != "" {
		c.Budget = data.Budget
	}
	if data.Timeline != "" {
		c.Timeline = data.Timeline
	}

	if data.HasIdentityField() {
		c.IdentityConfirmed = true
	}
	c.LastUpdated = time.Now().UTC()
	return c
}
