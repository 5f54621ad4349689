// Package sanitize gates the intelligence context before prompt
// construction. Automated research can be confidently wrong about WHO a
// person is even when well-grounded about a domain, so identity-attributed
// fields are released only on an explicit user assertion
// (IdentityConfirmed), never on research confidence alone.
package sanitize

import (
	"github.com/closerlabs/convoengine/pkg/models"
)

// Verified reports whether the research trail is well-grounded: a
// verified profile identity, high research confidence, and at least one
// citation. Verified alone never authorizes identity-attributed fields;
// it additionally gates citations.
func Verified(c *models.IntelligenceContext) bool {
	if c == nil || c.Profile == nil || !c.Profile.Identity.Verified {
		return false
	}
	if c.ResearchConfidence < 0.85 {
		return false
	}
	return c.Research != nil && len(c.Research.Citations) > 0
}

// Sanitize returns the prompt-safe view of a raw context, or nil when
// neither email nor name is present (nothing usable). Pure: the input is
// never mutated. Called once per turn before any prompt construction.
func Sanitize(raw *models.IntelligenceContext) *models.IntelligenceContext {
	if raw == nil {
		return nil
	}
	if raw.Email == "" && raw.Name == "" {
		return nil
	}

	confirmed := raw.IdentityConfirmed
	verified := Verified(raw)

	// Identity and the fixed allow-list of progression fields always
	// survive: they move the funnel without impersonation risk.
	out := &models.IntelligenceContext{
		SessionID:          raw.SessionID,
		Email:              raw.Email,
		Name:               raw.Name,
		IdentityConfirmed:  confirmed,
		ResearchConfidence: raw.ResearchConfidence,
		RoleConfidence:     raw.RoleConfidence,
		LeadScore:          raw.LeadScore,
		FitScore:           raw.FitScore,
		Budget:             raw.Budget,
		Timeline:           raw.Timeline,
		InterestLevel:      raw.InterestLevel,
		CurrentObjection:   raw.CurrentObjection,
		CalendarBooked:     raw.CalendarBooked,
		PitchDelivered:     raw.PitchDelivered,
		LastUpdated:        raw.LastUpdated,
	}

	if raw.Location != nil {
		loc := *raw.Location
		out.Location = &loc
	}

	// Company: domain and size leak nothing about who the person is.
	company := models.Company{}
	if raw.Company != nil {
		company.Domain = raw.Company.Domain
		company.Size = raw.Company.Size
		company.EmployeeCount = raw.Company.EmployeeCount
		if confirmed {
			company.Name = raw.Company.Name
			company.Industry = raw.Company.Industry
			company.Summary = raw.Company.Summary
			company.Website = raw.Company.Website
			company.LinkedIn = raw.Company.LinkedIn
		}
	}
	if company.Domain == "" {
		company.Domain = raw.EmailDomain()
	}
	if company != (models.Company{}) {
		out.Company = &company
	}

	if raw.Person != nil {
		person := models.Person{Seniority: raw.Person.Seniority}
		if confirmed {
			person.FullName = raw.Person.FullName
			person.Role = raw.Person.Role
			person.ProfileURL = raw.Person.ProfileURL
		}
		if person != (models.Person{}) {
			out.Person = &person
		}
	}

	if confirmed {
		out.Role = raw.Role
		out.StrategicContext = raw.StrategicContext
		if len(raw.Facts) > 0 {
			out.Facts = append([]string(nil), raw.Facts...)
		}
		if raw.Profile != nil {
			profile := *raw.Profile
			out.Profile = &profile
		}
		// Citations require the research trail itself to be grounded.
		if verified && raw.Research != nil && len(raw.Research.Citations) > 0 {
			out.Research = &models.Research{
				Citations: append([]models.Citation(nil), raw.Research.Citations...),
			}
		}
	}

	return out
}
