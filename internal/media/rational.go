package media

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// TimeBaseOf returns the time base 1/timescale of a track.
func TimeBaseOf(timescale uint32) Rational {
	return Rational{Num: 1, Den: int64(timescale)}
}

// Common time bases
var (
	TimeBaseMicros = Rational{Num: 1, Den: 1_000_000} // decoder timebase
	TimeBaseMillis = Rational{Num: 1, Den: 1000}
	TimeBase90kHz  = Rational{Num: 1, Den: 90000}
)
