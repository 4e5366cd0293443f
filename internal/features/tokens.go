package features

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

var loaderOnce sync.Once

// TiktokenCounter counts tokens with a BPE encoding loaded from the embedded
// offline tables, so no network access is needed at runtime.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) CountTokens(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}

// RuneEstimator approximates token counts without a vocabulary: each Han,
// Hiragana, Katakana or Hangul rune counts as one token, every other
// non-space rune as a quarter token.
type RuneEstimator struct{}

func (RuneEstimator) CountTokens(text string) (int, error) {
	var cjk, other int
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			cjk++
		default:
			other++
		}
	}
	return cjk + (other+3)/4, nil
}

// NewTokenCounter returns the counter for a config tokenizer name. It falls
// back to RuneEstimator when the encoding cannot be loaded.
func NewTokenCounter(name string) (TokenCounter, error) {
	if name == "" {
		name = "cl100k_base"
	}
	if name == "runes" {
		return RuneEstimator{}, nil
	}
	tc, err := NewTiktokenCounter(name)
	if err != nil {
		return RuneEstimator{}, err
	}
	return tc, nil
}
