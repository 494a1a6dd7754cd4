package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

func TestParseHeaderLayout(t *testing.T) {
	chunk := []byte{
		2,                                      // I
		0, 0, 0, 0, 0, 0, 0x03, 0xe8, // availability 1000
		0, 0, 0, 0, 0, 0, 0x02, 0x00, // dts 512
		0, 0, 0, 0, 0, 0, 0x04, 0x00, // pts 1024
		0xde, 0xad,
	}

	p := NewParser()
	f, err := p.Parse(chunk)
	require.NoError(t, err)

	assert.Equal(t, media.FrameClassI, f.Class)
	assert.Equal(t, int64(1000), f.AvailabilityTime)
	assert.Equal(t, int64(512), f.DTS)
	assert.Equal(t, int64(1024), f.PTS)
	assert.Equal(t, []byte{0xde, 0xad}, f.Payload)
}

func TestParseClassMapping(t *testing.T) {
	tests := []struct {
		b    byte
		want media.FrameClass
	}{
		{0, media.FrameClassP},
		{1, media.FrameClassB},
		{2, media.FrameClassI},
	}
	for _, tt := range tests {
		chunk := make([]byte, HeaderSize)
		chunk[0] = tt.b
		f, err := NewParser().Parse(chunk)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.Class)
		assert.Empty(t, f.Payload)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		chunk []byte
	}{
		{"empty", nil},
		{"short header", make([]byte, HeaderSize-1)},
		{"unknown class", append([]byte{7}, make([]byte, HeaderSize)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewParser().Parse(tt.chunk)
			assert.Nil(t, f)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformedFrame)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestAvailabilityEpochSetOnce(t *testing.T) {
	p := NewParser()
	_, ok := p.AvailabilityEpoch()
	assert.False(t, ok)

	_, err := p.Parse(Encode(&media.RawFrame{AvailabilityTime: 5000}))
	require.NoError(t, err)
	_, err = p.Parse(Encode(&media.RawFrame{AvailabilityTime: 9000}))
	require.NoError(t, err)

	epoch, ok := p.AvailabilityEpoch()
	assert.True(t, ok)
	assert.Equal(t, int64(5000), epoch)

	p.Reset()
	_, ok = p.AvailabilityEpoch()
	assert.False(t, ok)

	_, err = p.Parse(Encode(&media.RawFrame{AvailabilityTime: 7000}))
	require.NoError(t, err)
	epoch, _ = p.AvailabilityEpoch()
	assert.Equal(t, int64(7000), epoch)
}

func TestEncodeParse(t *testing.T) {
	in := &media.RawFrame{
		FrameInfo:        media.FrameInfo{Class: media.FrameClassB, DTS: 256, PTS: 768},
		AvailabilityTime: 1_700_000_000_000_000,
		Payload:          []byte("sample"),
	}
	out, err := NewParser().Parse(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
