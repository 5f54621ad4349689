// Package funnel computes the conversation's funnel stage. The stage is
// a pure function of (trigger, sanitized context) recomputed every turn;
// no stage authority is persisted inside this subsystem.
package funnel

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/closerlabs/convoengine/pkg/models"
)

// DefaultQualificationRule promotes DISCOVERY → SCORING once the company
// size is known, a budget was explicitly stated, and the counterpart has
// decision-making seniority.
const DefaultQualificationRule = `CompanySizeKnown && BudgetStated && Seniority in ["C-Level", "VP", "Director"]`

// ruleEnv is the expr evaluation environment for qualification rules.
type ruleEnv struct {
	CompanySizeKnown bool    `expr:"CompanySizeKnown"`
	BudgetStated     bool    `expr:"BudgetStated"`
	Seniority        string  `expr:"Seniority"`
	LeadScore        int     `expr:"LeadScore"`
	FitScore         int     `expr:"FitScore"`
	ResearchScore    float64 `expr:"ResearchScore"`
}

// Machine maps triggers and context onto funnel stages.
type Machine struct {
	program *vm.Program
}

// New compiles the qualification rule. An empty rule selects the
// built-in default.
func New(rule string) (*Machine, error) {
	if rule == "" {
		rule = DefaultQualificationRule
	}
	program, err := expr.Compile(rule, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile qualification rule: %w", err)
	}
	return &Machine{program: program}, nil
}

// ComputeStage resolves the funnel stage for one turn. Explicit triggers
// short-circuit; otherwise qualification decides SCORING vs DISCOVERY.
func (m *Machine) ComputeStage(trigger models.Trigger, sanitized *models.IntelligenceContext) models.FunnelStage {
	switch trigger {
	case models.TriggerConversationEnd:
		return models.StageSummary
	case models.TriggerBooking:
		return models.StageClosing
	case models.TriggerAdmin:
		return models.StagePitching
	}

	if m.qualified(sanitized) {
		return models.StageScoring
	}
	return models.StageDiscovery
}

func (m *Machine) qualified(c *models.IntelligenceContext) bool {
	env := buildEnv(c)
	out, err := expr.Run(m.program, env)
	if err != nil {
		log.Warn().Err(err).Msg("Qualification rule failed, falling back to built-in")
		return env.CompanySizeKnown && env.BudgetStated &&
			(env.Seniority == "C-Level" || env.Seniority == "VP" || env.Seniority == "Director")
	}
	ok, _ := out.(bool)
	return ok
}

func buildEnv(c *models.IntelligenceContext) ruleEnv {
	env := ruleEnv{}
	if c == nil {
		return env
	}
	if c.Company != nil {
		env.CompanySizeKnown = c.Company.Size != "" || c.Company.EmployeeCount > 0
	}
	env.BudgetStated = c.Budget != ""
	if c.Person != nil {
		env.Seniority = c.Person.Seniority
	}
	if c.LeadScore != nil {
		env.LeadScore = *c.LeadScore
	}
	if c.FitScore != nil {
		env.FitScore = *c.FitScore
	}
	env.ResearchScore = c.ResearchConfidence
	return env
}
