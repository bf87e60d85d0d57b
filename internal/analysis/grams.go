package analysis

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks construction-time configuration errors. A stream
// that fails with it must not be used.
var ErrInvalidConfig = errors.New("invalid analysis configuration")

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// GramRange bounds the rune length of generated grams.
type GramRange struct {
	Min int
	Max int
}

// NewGramRange validates and returns the range [minGram, maxGram].
func NewGramRange(minGram, maxGram int) (GramRange, error) {
	r := GramRange{Min: minGram, Max: maxGram}
	if err := r.Validate(); err != nil {
		return GramRange{}, err
	}
	return r, nil
}

// Validate reports whether the range can drive a generator.
func (r GramRange) Validate() error {
	if r.Min < 1 {
		return configErrorf("minGram must be greater than zero, got %d", r.Min)
	}
	if r.Min > r.Max {
		return configErrorf("minGram must not be greater than maxGram (%d > %d)", r.Min, r.Max)
	}
	return nil
}

// Side selects which end of the input edge grams are anchored to.
type Side int

const (
	SideFront Side = iota
	SideBack
)

func (s Side) String() string {
	if s == SideBack {
		return "back"
	}
	return "front"
}

// ParseSide resolves a side label. An empty label means front.
func ParseSide(label string) (Side, error) {
	switch label {
	case "", "front":
		return SideFront, nil
	case "back":
		return SideBack, nil
	default:
		return SideFront, configErrorf("side must be either front or back, got %q", label)
	}
}
