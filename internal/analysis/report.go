package analysis

// FeedbackItem is one structured observation from the feedback endpoint.
type FeedbackItem struct {
	Category string `json:"category"`
	Comment  string `json:"feedback"`
}

// Report is the composite post-call scoring result. Scores are unitless
// strings exactly as returned by the backend; this layer does not interpret
// them. A Report is built once per ended call and never mutated.
type Report struct {
	Compliance           string `json:"compliance"`
	CustomerSatisfaction string `json:"customer_satisfaction"`
	OverallScore         string `json:"overall_score"`
	ScriptAdherence      string `json:"script_adherence"`
	Hesitation           string `json:"hesitation"`

	// Missing lists metrics whose scoring request failed. A partial report
	// is still returned; callers decide how to surface the degradation.
	Missing []string `json:"missing,omitempty"`

	Feedback        []FeedbackItem `json:"feedback"`
	DurationSeconds int            `json:"duration"`
}

// Partial reports whether any scoring request failed.
func (r Report) Partial() bool {
	return len(r.Missing) > 0
}
