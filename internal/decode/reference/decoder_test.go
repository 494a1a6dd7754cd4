package reference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

var testConfig = media.DecoderConfig{Codec: "avc1.42c01e", CodedWidth: 640, CodedHeight: 360}

// collect drains out until it is closed.
func collect(out <-chan *media.DecodedPicture) <-chan []*media.DecodedPicture {
	result := make(chan []*media.DecodedPicture, 1)
	go func() {
		var got []*media.DecodedPicture
		for p := range out {
			got = append(got, p)
		}
		result <- got
	}()
	return result
}

func timestamps(pictures []*media.DecodedPicture) []int64 {
	out := make([]int64, len(pictures))
	for i, p := range pictures {
		out[i] = p.Timestamp
	}
	return out
}

func TestDecoderEmitsPresentationOrder(t *testing.T) {
	d := New(2, nil)
	require.NoError(t, d.Configure(testConfig))
	result := collect(d.Output())

	// Decode order I P B B P B B with presentation times in µs.
	chunks := []media.EncodedChunk{
		{IsSync: true, Timestamp: 0},
		{Timestamp: 120000},
		{Timestamp: 40000},
		{Timestamp: 80000},
		{Timestamp: 240000},
		{Timestamp: 160000},
		{Timestamp: 200000},
	}
	for _, c := range chunks {
		c.Payload = []byte{byte(c.Timestamp / 40000)}
		c.Duration = 40000
		require.NoError(t, d.Decode(c))
	}
	require.NoError(t, d.Close())

	var got []*media.DecodedPicture
	select {
	case got = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("decoder output was not closed")
	}

	assert.Equal(t, []int64{0, 40000, 80000, 120000, 160000, 200000, 240000}, timestamps(got))
	assert.Equal(t, []byte{3}, got[3].Data)
	assert.Equal(t, int64(40000), got[3].Duration)

	stats := d.Stats()
	assert.Equal(t, uint64(7), stats.Submitted)
	assert.Equal(t, uint64(7), stats.Emitted)
	assert.Equal(t, int64(7), stats.Outstanding)

	for _, p := range got {
		p.Close()
		p.Close()
	}
	assert.Zero(t, d.Stats().Outstanding)
}

func TestDecoderSyncChunkFlushesHeld(t *testing.T) {
	d := New(8, nil)
	require.NoError(t, d.Configure(testConfig))
	out := d.Output()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.Decode(media.EncodedChunk{IsSync: true, Timestamp: 0}))
		assert.NoError(t, d.Decode(media.EncodedChunk{Timestamp: 40000}))
		assert.NoError(t, d.Decode(media.EncodedChunk{IsSync: true, Timestamp: 80000}))
	}()

	// Depth 8 would hold everything; the second sync chunk releases the
	// first sequence.
	for _, want := range []int64{0, 40000} {
		select {
		case p := <-out:
			assert.Equal(t, want, p.Timestamp)
		case <-time.After(2 * time.Second):
			t.Fatal("expected picture")
		}
	}
	<-done

	require.NoError(t, d.Close())
	p, ok := <-out
	require.True(t, ok)
	assert.Equal(t, int64(80000), p.Timestamp)
	_, ok = <-out
	assert.False(t, ok)
}

func TestDecoderFlushEmitsHeld(t *testing.T) {
	d := New(8, nil)
	assert.NoError(t, d.Flush(), "flushing an unconfigured decoder is a no-op")

	require.NoError(t, d.Configure(testConfig))
	out := d.Output()

	flushed := make(chan error, 1)
	go func() {
		assert.NoError(t, d.Decode(media.EncodedChunk{IsSync: true, Timestamp: 0}))
		assert.NoError(t, d.Decode(media.EncodedChunk{Timestamp: 80000}))
		assert.NoError(t, d.Decode(media.EncodedChunk{Timestamp: 40000}))
		flushed <- d.Flush()
	}()

	for _, want := range []int64{0, 40000, 80000} {
		select {
		case p := <-out:
			assert.Equal(t, want, p.Timestamp)
		case <-time.After(2 * time.Second):
			t.Fatal("flush did not release held pictures")
		}
	}
	require.NoError(t, <-flushed)

	// The decoder keeps working after a flush.
	require.NoError(t, d.Decode(media.EncodedChunk{Timestamp: 120000}))
	require.NoError(t, d.Close())
	p, ok := <-out
	require.True(t, ok)
	assert.Equal(t, int64(120000), p.Timestamp)
}

func TestDecoderFlushAfterClose(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.Configure(testConfig))
	result := collect(d.Output())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Flush(), errors.New(errors.ErrorTypeInvalidState, ""))
	assert.Empty(t, <-result)
}

func TestDecoderWithCorrelationMap(t *testing.T) {
	m, err := decode.NewCorrelationMap(12800)
	require.NoError(t, err)

	d := New(3, nil)
	require.NoError(t, d.Configure(testConfig))
	result := collect(d.Output())

	infos := []media.FrameInfo{
		{Class: media.FrameClassI, DTS: 0, PTS: 512},
		{Class: media.FrameClassP, DTS: 512, PTS: 2048},
		{Class: media.FrameClassB, DTS: 1024, PTS: 1024},
		{Class: media.FrameClassB, DTS: 1536, PTS: 1536},
	}
	for i, info := range infos {
		key, err := m.Insert(info)
		require.NoError(t, err)
		require.NoError(t, d.Decode(media.EncodedChunk{IsSync: i == 0, Timestamp: key, Duration: m.Duration(512)}))
	}
	require.NoError(t, d.Close())

	var pts []int64
	for _, p := range <-result {
		f, err := m.Resolve(p)
		require.NoError(t, err)
		pts = append(pts, f.PTS)
		f.Release()
	}
	assert.Equal(t, []int64{512, 1024, 1536, 2048}, pts)
	assert.Zero(t, m.Len())
}

func TestDecoderLifecycleErrors(t *testing.T) {
	d := New(0, nil)
	assert.Equal(t, DefaultReorderDepth, d.depth)

	err := d.Decode(media.EncodedChunk{})
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))

	assert.Error(t, d.Configure(media.DecoderConfig{}))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	_, ok := <-d.Output()
	assert.False(t, ok, "closing an unconfigured decoder closes its output")
}

func TestDecoderDecodeAfterClose(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.Configure(testConfig))
	result := collect(d.Output())
	require.NoError(t, d.Close())

	err := d.Decode(media.EncodedChunk{Timestamp: 1})
	assert.Error(t, err)
	assert.Empty(t, <-result)
}
