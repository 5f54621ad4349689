package agents_test

import (
	"context"
	"strings"
	"testing"

	"github.com/closerlabs/convoengine/internal/agents"
)

func TestCalculateROI_Deterministic(t *testing.T) {
	inputs := map[string]any{"budget": "$100k", "company_size": "200-500"}

	first, err := agents.CalculateROI(context.Background(), inputs)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := agents.CalculateROI(context.Background(), inputs)
	if first != second {
		t.Fatal("same inputs must produce the same figures")
	}

	r := first.(agents.ROIResult)
	if r.ROIPercent != 28 {
		t.Errorf("roi = %v, want 28 for a mid-size company", r.ROIPercent)
	}
	if r.AnnualSavings != 28000 {
		t.Errorf("savings = %v, want 28000 on a $100k budget", r.AnnualSavings)
	}
	if r.Assumptions == "" {
		t.Error("assumptions must be stated")
	}
}

func TestCalculateROI_SizeBands(t *testing.T) {
	cases := []struct {
		size string
		want float64
	}{
		{"1000+", 34},
		{"enterprise", 34},
		{"200-500", 28},
		{"10-50", 22},
		{"", 22},
	}
	for _, tc := range cases {
		out, err := agents.CalculateROI(context.Background(),
			map[string]any{"budget": "$10k", "company_size": tc.size})
		if err != nil {
			t.Fatal(err)
		}
		if got := out.(agents.ROIResult).ROIPercent; got != tc.want {
			t.Errorf("size %q: roi = %v, want %v", tc.size, got, tc.want)
		}
	}
}

func TestCalculateROI_UnparsableBudget(t *testing.T) {
	for _, budget := range []string{"", "no idea yet", "tbd"} {
		if _, err := agents.CalculateROI(context.Background(), map[string]any{"budget": budget}); err == nil {
			t.Errorf("budget %q: expected an error", budget)
		}
	}
}

func TestCalculateROI_AmountSuffixes(t *testing.T) {
	out, err := agents.CalculateROI(context.Background(),
		map[string]any{"budget": "around $2m annually"})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.(agents.ROIResult).AnnualSavings; got != 2_000_000*0.22 {
		t.Errorf("savings = %v, want 22%% of $2m", got)
	}
}

func TestGetBookingLink(t *testing.T) {
	out, err := agents.GetBookingLink(context.Background(), map[string]any{"email": "pat+demo@acme.io"})
	if err != nil {
		t.Fatal(err)
	}
	link := out.(string)
	if !strings.Contains(link, "invitee=pat%2Bdemo%40acme.io") {
		t.Errorf("invitee email not escaped into link: %q", link)
	}

	out, _ = agents.GetBookingLink(context.Background(), map[string]any{})
	if strings.Contains(out.(string), "invitee=") {
		t.Error("no email must yield the bare booking URL")
	}
}

func TestScoreLead(t *testing.T) {
	out, err := agents.ScoreLead(context.Background(), map[string]any{
		"budget":              "$60k",
		"timeline":            "Q3",
		"seniority":           "VP",
		"company_size":        "200-500",
		"research_confidence": 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := out.(agents.LeadScores)
	if s.Lead != 85 {
		t.Errorf("lead = %d, want 85", s.Lead)
	}
	if s.Fit != 90 {
		t.Errorf("fit = %d, want 90", s.Fit)
	}

	out, _ = agents.ScoreLead(context.Background(), map[string]any{})
	s = out.(agents.LeadScores)
	if s.Lead != 20 || s.Fit != 20 {
		t.Errorf("empty inputs: lead = %d fit = %d, want baseline 20/20", s.Lead, s.Fit)
	}
}

func TestScoreLead_Clamped(t *testing.T) {
	out, _ := agents.ScoreLead(context.Background(), map[string]any{
		"budget":              "$500k",
		"timeline":            "now",
		"seniority":           "C-Level",
		"company_size":        "enterprise",
		"research_confidence": 0.99,
	})
	s := out.(agents.LeadScores)
	if s.Lead > 100 || s.Fit > 100 {
		t.Errorf("scores must clamp to 100: %+v", s)
	}
}
