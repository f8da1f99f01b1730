// Package report shapes a post-call analysis into the read-only view rendered
// by the results screen: each metric against a fixed industry reference,
// duration in minutes and seconds, and feedback observations with
// human-readable labels.
package report

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nmoreau/calldrill/internal/analysis"
)

// Metric is one scored card on the results screen.
type Metric struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Score     string `json:"score"`
	Reference string `json:"reference"`
	Detail    string `json:"detail"`
	Missing   bool   `json:"missing,omitempty"`
}

// Observation is one feedback entry with its derived display label.
type Observation struct {
	Label   string `json:"label"`
	Comment string `json:"comment"`
}

// View is the complete results screen payload.
type View struct {
	Duration          string        `json:"duration"`
	DurationReference string        `json:"duration_reference"`
	Metrics           []Metric      `json:"metrics"`
	Observations      []Observation `json:"observations"`
	Partial           bool          `json:"partial,omitempty"`
}

// Fixed reference values shown next to each metric, matching the published
// industry benchmarks on the results screen.
const (
	durationReference = "Industry Avg: 5:30"

	overallReference      = "Industry Avg: 74%"
	complianceReference   = "Target: 95%"
	satisfactionReference = "Industry Avg: 4.1"
	hesitationReference   = "Industry Avg: 72%"
	adherenceReference    = "Target: 90%"
)

// BuildView shapes an analysis report for rendering.
func BuildView(r analysis.Report) View {
	missing := make(map[string]bool, len(r.Missing))
	for _, name := range r.Missing {
		missing[name] = true
	}

	metrics := []Metric{
		{
			Key:       "overall_score",
			Name:      "Overall Score",
			Score:     r.OverallScore,
			Reference: overallReference,
			Detail:    "Total performance across all scored dimensions.",
			Missing:   missing["overall_score"],
		},
		{
			Key:       "compliance",
			Name:      "Compliance",
			Score:     r.Compliance,
			Reference: complianceReference,
			Detail:    "Whether all required steps and disclosures were covered.",
			Missing:   missing["compliance"],
		},
		{
			Key:       "customer_satisfaction",
			Name:      "Customer Satisfaction",
			Score:     r.CustomerSatisfaction,
			Reference: satisfactionReference,
			Detail:    "Based on sentiment and tone detection.",
			Missing:   missing["customer_satisfaction"],
		},
		{
			Key:       "hesitation",
			Name:      "Hesitation Handling",
			Score:     r.Hesitation,
			Reference: hesitationReference,
			Detail:    "How effectively hesitation, objections, and uncertainty were handled.",
			Missing:   missing["hesitation"],
		},
		{
			Key:       "script_adherence",
			Name:      "Script Adherence",
			Score:     r.ScriptAdherence,
			Reference: adherenceReference,
			Detail:    "How closely the call followed the expected script and flow.",
			Missing:   missing["script_adherence"],
		},
	}

	observations := make([]Observation, 0, len(r.Feedback))
	for _, item := range r.Feedback {
		observations = append(observations, Observation{
			Label:   CategoryLabel(item.Category),
			Comment: strings.TrimSpace(item.Comment),
		})
	}

	return View{
		Duration:          FormatDuration(r.DurationSeconds),
		DurationReference: durationReference,
		Metrics:           metrics,
		Observations:      observations,
		Partial:           r.Partial(),
	}
}

// FormatDuration renders whole seconds as "M min S sec".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d min %d sec", seconds/60, seconds%60)
}

// CategoryLabel derives a display label from a feedback category key.
// Snake_case keys are split and title-cased, fully-lowercase keys get their
// first letter capitalized, and mixed- or upper-case keys pass through
// unchanged.
func CategoryLabel(raw string) string {
	if strings.Contains(raw, "_") {
		parts := strings.Split(raw, "_")
		for i, part := range parts {
			parts[i] = capitalize(part)
		}
		return strings.Join(parts, " ")
	}
	if raw == strings.ToLower(raw) {
		return capitalize(raw)
	}
	return raw
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	first, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(first)) + word[size:]
}
