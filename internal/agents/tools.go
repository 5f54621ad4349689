package agents

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Built-in tool handlers. Each runs behind the tool executor so every
// invocation is retried, cached, and audited uniformly.

// ── ROI Calculator ──────────────────────────────────────────

// ROIResult is the verified output of the ROI calculator. These are the
// only figures a persona may quote.
type ROIResult struct {
	ROIPercent    float64 `json:"roi_percent"`
	AnnualSavings float64 `json:"annual_savings"`
	Assumptions   string  `json:"assumptions"`
}

var numberPattern = regexp.MustCompile(`[\d,]+(\.\d+)?`)

// CalculateROI derives ROI from the stated budget and company size.
// Deterministic: same inputs always produce the same figures.
func CalculateROI(_ context.Context, inputs map[string]any) (any, error) {
	budget, _ := inputs["budget"].(string)
	amount := parseAmount(budget)
	if amount <= 0 {
		return nil, fmt.Errorf("no parsable budget amount in %q", budget)
	}

	// Savings model: baseline 22% efficiency gain, scaled up for larger
	// teams where coordination overhead dominates.
	multiplier := 0.22
	switch sizeBand(inputs) {
	case "mid":
		multiplier = 0.28
	case "large":
		multiplier = 0.34
	}

	savings := amount * multiplier
	roi := savings / amount * 100

	return ROIResult{
		ROIPercent:    roi,
		AnnualSavings: savings,
		Assumptions:   fmt.Sprintf("based on stated budget %s and a %.0f%% efficiency gain", budget, multiplier*100),
	}, nil
}

func parseAmount(budget string) float64 {
	m := numberPattern.FindString(budget)
	if m == "" {
		return 0
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	lower := strings.ToLower(budget)
	if strings.Contains(lower, "k") {
		n *= 1_000
	}
	if strings.Contains(lower, "m") {
		n *= 1_000_000
	}
	return n
}

func sizeBand(inputs map[string]any) string {
	size, _ := inputs["company_size"].(string)
	size = strings.ToLower(size)
	switch {
	case strings.Contains(size, "1000") || strings.Contains(size, "enterprise"):
		return "large"
	case strings.Contains(size, "200") || strings.Contains(size, "500") || strings.Contains(size, "mid"):
		return "mid"
	default:
		return "small"
	}
}

// ── Booking Link ────────────────────────────────────────────

// GetBookingLink returns the calendar URL for the counterpart. The base
// URL comes from CONVOENGINE_BOOKING_URL.
func GetBookingLink(_ context.Context, inputs map[string]any) (any, error) {
	base := os.Getenv("CONVOENGINE_BOOKING_URL")
	if base == "" {
		base = "https://cal.closerlabs.com/demo"
	}

	email, _ := inputs["email"].(string)
	if email == "" {
		return base, nil
	}
	return base + "?invitee=" + url.QueryEscape(email), nil
}

// ── Lead Scoring ────────────────────────────────────────────

// LeadScores is the score_lead tool output.
type LeadScores struct {
	Lead int `json:"lead"`
	Fit  int `json:"fit"`
}

// ScoreLead produces 0-100 lead and fit scores from progression fields.
// Intentionally simple and deterministic; the numbers calibrate persona
// tone, they are never shown to the user.
func ScoreLead(_ context.Context, inputs map[string]any) (any, error) {
	lead := 20
	fit := 20

	if b, _ := inputs["budget"].(string); b != "" {
		lead += 30
		if parseAmount(b) >= 50_000 {
			fit += 20
		}
	}
	if t, _ := inputs["timeline"].(string); t != "" {
		lead += 15
	}
	if s, _ := inputs["seniority"].(string); s == "C-Level" || s == "VP" || s == "Director" {
		lead += 20
		fit += 25
	}
	if cs, _ := inputs["company_size"].(string); cs != "" {
		fit += 15
	}
	if rc, _ := inputs["research_confidence"].(float64); rc >= 0.85 {
		fit += 10
	}

	return LeadScores{Lead: clamp(lead), Fit: clamp(fit)}, nil
}

func clamp(n int) int {
	if n > 100 {
		return 100
	}
	if n < 0 {
		return 0
	}
	return n
}
