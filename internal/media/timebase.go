package media

import (
	"fmt"
	"math"
)

// TimeBaseConverter converts timestamps from a track time base to another,
// typically the decoder's microsecond time base.
type TimeBaseConverter struct {
	factor float64
}

// NewTimeBaseConverter creates a converter from one time base to another.
func NewTimeBaseConverter(from, to Rational) (*TimeBaseConverter, error) {
	if from.Num == 0 || from.Den == 0 {
		return nil, fmt.Errorf("invalid source time base: %v", from)
	}
	if to.Num == 0 || to.Den == 0 {
		return nil, fmt.Errorf("invalid target time base: %v", to)
	}

	// (to.Den * from.Num) / (to.Num * from.Den)
	factor := (float64(to.Den) * float64(from.Num)) / (float64(to.Num) * float64(from.Den))
	return &TimeBaseConverter{factor: factor}, nil
}

// Convert converts a timestamp to the target time base, rounding to the
// nearest integer.
func (c *TimeBaseConverter) Convert(ts int64) int64 {
	return int64(math.Round(float64(ts) * c.factor))
}

// ToMillis converts a value in timescale units to milliseconds.
func ToMillis(v int64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return float64(v) * 1000 / float64(timescale)
}

// UnitsForDuration converts a duration in milliseconds to timescale units.
func UnitsForDuration(ms int64, timescale uint32) int64 {
	return ms * int64(timescale) / 1000
}
