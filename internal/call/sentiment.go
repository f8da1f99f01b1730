package call

// DefaultSentiment is the neutral midpoint shown before any sentiment event
// arrives.
const DefaultSentiment = 50

// SentimentLabel maps a 0-100 sentiment score to its display label. The
// boundaries are inclusive: 66 is Positive and 33 is Neutral.
func SentimentLabel(score int) string {
	switch {
	case score >= 66:
		return "Positive"
	case score >= 33:
		return "Neutral"
	default:
		return "Negative"
	}
}
