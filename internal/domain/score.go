package domain

const (
	ThumbsUp   = "👍"
	ThumbsDown = "👎"
)

// Score maps a feedback widget signal to the numeric score sent to the
// feedback store. Only a thumbs up counts as positive.
func Score(signal string) int {
	if signal == ThumbsUp {
		return 1
	}
	return 0
}
