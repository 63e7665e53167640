package contextwindow

import (
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator is an optional exact-BPE token estimator. The
// 4-chars/token heuristic remains the default; this is available for
// callers that opt into exact counts at the cost of a real tokenizer
// dependency.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (t *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
