package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameClass(t *testing.T) {
	assert.Equal(t, "P", FrameClassP.String())
	assert.Equal(t, "B", FrameClassB.String())
	assert.Equal(t, "I", FrameClassI.String())
	assert.Equal(t, "unknown", FrameClass(7).String())

	assert.True(t, FrameClassI.IsKeyframe())
	assert.False(t, FrameClassP.IsKeyframe())
	assert.True(t, FrameClassB.IsDroppable())
	assert.False(t, FrameClassI.IsDroppable())
	assert.False(t, FrameClass(3).Valid())
}

func TestTimeBaseConverter(t *testing.T) {
	tests := []struct {
		name     string
		from, to Rational
		in, want int64
	}{
		{"12800Hz to micros", TimeBaseOf(12800), TimeBaseMicros, 512, 40000},
		{"90kHz to micros", TimeBase90kHz, TimeBaseMicros, 3003, 33367},
		{"micros to 12800Hz", TimeBaseMicros, TimeBaseOf(12800), 40000, 512},
		{"identity", TimeBaseOf(1000), TimeBaseMillis, 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewTimeBaseConverter(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Convert(tt.in))
		})
	}
}

func TestTimeBaseConverterInvalid(t *testing.T) {
	_, err := NewTimeBaseConverter(Rational{Num: 1, Den: 0}, TimeBaseMicros)
	assert.Error(t, err)

	_, err = NewTimeBaseConverter(TimeBaseMicros, Rational{})
	assert.Error(t, err)
}

func TestDecodedPictureCloseOnce(t *testing.T) {
	released := 0
	p := NewDecodedPicture(10, 40, []byte{1, 2, 3}, func() { released++ })

	p.Close()
	p.Close()

	assert.Equal(t, 1, released)
	assert.Nil(t, p.Data)
}

func TestUnitConversions(t *testing.T) {
	assert.Equal(t, int64(2560), UnitsForDuration(200, 12800))
	assert.InDelta(t, 40.0, ToMillis(512, 12800), 1e-9)
	assert.Equal(t, 0.0, ToMillis(512, 0))
}
