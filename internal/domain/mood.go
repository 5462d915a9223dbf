package domain

// MoodState labels the sentiment attached to a token's artwork. The
// registry stores and reports the value without interpreting it; the
// constants below are the labels the curation pipeline emits, but any
// string is accepted.
type MoodState string

const (
	MoodBullish           MoodState = "BULLISH"
	MoodBearish           MoodState = "BEARISH"
	MoodNeutral           MoodState = "NEUTRAL"
	MoodVolatile          MoodState = "VOLATILE"
	MoodPositiveSentiment MoodState = "POSITIVE_SENTIMENT"
	MoodNegativeSentiment MoodState = "NEGATIVE_SENTIMENT"
)

// String returns the string representation of MoodState.
func (m MoodState) String() string {
	return string(m)
}

// IsValid checks if the mood is one of the known pipeline labels.
func (m MoodState) IsValid() bool {
	switch m {
	case MoodBullish, MoodBearish, MoodNeutral, MoodVolatile,
		MoodPositiveSentiment, MoodNegativeSentiment:
		return true
	}
	return false
}
