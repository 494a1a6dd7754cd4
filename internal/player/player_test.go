package player

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/decode/reference"
	"github.com/zsiec/moqplay/internal/demux"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/frame"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/transport"
)

type fakeSub struct {
	id    uint64
	track string
	ch    chan []byte
}

func (s *fakeSub) ID() uint64    { return s.id }
func (s *fakeSub) Track() string { return s.track }

func (s *fakeSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeSession serves one channel per track name.
type fakeSession struct {
	mu           sync.Mutex
	tracks       map[string]chan []byte
	starts       map[string]transport.StartAt
	unsubscribed []string
	nextID       uint64
}

func newFakeSession(tracks ...string) *fakeSession {
	s := &fakeSession{
		tracks: make(map[string]chan []byte),
		starts: make(map[string]transport.StartAt),
	}
	for _, t := range tracks {
		s.tracks[t] = make(chan []byte, 64)
	}
	return s
}

func (s *fakeSession) Subscribe(_ context.Context, _ string, track string, start transport.StartAt) (transport.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.tracks[track]
	if !ok {
		return nil, errors.WrapSubscriptionError(fmt.Errorf("no track %q", track), track)
	}
	s.starts[track] = start
	s.nextID += 2
	return &fakeSub{id: s.nextID, track: track, ch: ch}, nil
}

func (s *fakeSession) Unsubscribe(_ context.Context, sub transport.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, sub.Track())
	return nil
}

// fakeDemuxer emits one sample per append, synchronously. Payloads that
// start with 'I' are sync samples.
type fakeDemuxer struct {
	handler demux.SampleHandler
	codec   string
}

func (d *fakeDemuxer) Configure(init []byte) (media.TrackInfo, error) {
	if string(init) != "init" {
		return media.TrackInfo{}, errors.NewCodecConfigMissingError("bad init")
	}
	return media.TrackInfo{ID: 1, Codec: d.codec, Width: 640, Height: 360, Timescale: 12800}, nil
}

func (d *fakeDemuxer) SetSampleHandler(h demux.SampleHandler) { d.handler = h }

func (d *fakeDemuxer) AppendSample(data []byte) error {
	return d.handler(&media.ParsedSample{
		Config:    media.DecoderConfig{Codec: d.codec, CodedWidth: 640, CodedHeight: 360},
		IsSync:    len(data) > 0 && data[0] == 'I',
		Timescale: 12800,
		Duration:  512,
		Payload:   data,
	})
}

func encodeFrame(class media.FrameClass, dts, pts int64) []byte {
	return frame.Encode(&media.RawFrame{
		FrameInfo:        media.FrameInfo{Class: class, DTS: dts, PTS: pts},
		AvailabilityTime: t0.UnixMicro() + dts*1_000_000/12800,
		Payload:          []byte(fmt.Sprintf("%s%d", class, dts)),
	})
}

func testPlayerConfig(mode string) config.PlayerConfig {
	return config.PlayerConfig{
		Mode:            mode,
		BufferMs:        100,
		ReorderBufferMs: 200,
		FrameDuration:   512,
		GOPJump:         512,
		Namespace:       "livestream",
		InitTrack:       "init",
		VideoTrack:      "video",
		BFrameTrack:     "b-frames",
	}
}

func newTestPlayer(cfg config.PlayerConfig, sess transport.Session) (*Player, *recordingSink, *EventBus) {
	clk := NewVirtualClock(t0)
	sink := newRecordingSink(clk)
	bus := NewEventBus(64)
	p := New(cfg, Deps{
		Session:    sess,
		NewDemuxer: func() demux.Demuxer { return &fakeDemuxer{codec: "avc1.42c01e"} },
		NewDecoder: func() decode.Decoder { return reference.New(2, nil) },
		Sink:       sink,
	}, logger.NewNullLogger(), WithClock(clk), WithListener(bus))
	return p, sink, bus
}

func TestPlayerGOPMode(t *testing.T) {
	sess := newFakeSession("init", "video")
	sess.tracks["init"] <- []byte("init")
	p, sink, _ := newTestPlayer(testPlayerConfig(config.ModeGOP), sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := p.Play(ctx, transport.FromGroup(7))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, transport.FromGroup(0), sess.starts["init"])
	assert.Equal(t, transport.FromGroup(7), sess.starts["video"])

	_, err = p.Play(ctx, transport.Live())
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))

	// I P P P P P P P and a stale retransmit of P512. Ending the track
	// flushes the decoder's reorder window.
	video := sess.tracks["video"]
	for i := int64(0); i < 8; i++ {
		class := media.FrameClassP
		if i == 0 {
			class = media.FrameClassI
		}
		video <- encodeFrame(class, i*512, i*512)
	}
	video <- encodeFrame(media.FrameClassP, 512, 512)
	close(video)

	sink.waitFor(t, 8)
	info := p.Info()
	assert.Equal(t, id, info.SessionID)
	assert.Equal(t, uint32(12800), info.Track.Timescale)

	require.NoError(t, p.Pause(ctx))
	assert.Equal(t, StatePaused, p.State())
	assert.ElementsMatch(t, []string{"init", "video"}, sess.unsubscribed)

	frames := sink.rendered()
	require.Len(t, frames, 8)
	for i := 0; i < 8; i++ {
		assert.Equal(t, int64(i)*512, frames[i].pts)
	}

	summary, ok := p.Summary()
	require.True(t, ok)
	assert.Equal(t, id, summary.SessionID)
	assert.Equal(t, 9, summary.FramesReceivedByType["I"]+summary.FramesReceivedByType["P"])
	assert.Equal(t, 1, summary.TotalFramesDropped)
	assert.Equal(t, 8, summary.FramesRendered)
	assert.GreaterOrEqual(t, summary.TotalBufferingEvents, 1)
	assert.False(t, p.Recorder().Active())
}

func TestPlayerBFrameMode(t *testing.T) {
	sess := newFakeSession("init", "video", "b-frames")
	sess.tracks["init"] <- []byte("init")
	// Unbuffered tracks keep either track from running more than a couple
	// of frames ahead of the other.
	sess.tracks["video"] = make(chan []byte)
	sess.tracks["b-frames"] = make(chan []byte)
	p, sink, _ := newTestPlayer(testPlayerConfig(config.ModeBFrame), sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := p.Play(ctx, transport.Live())
	require.NoError(t, err)
	assert.Equal(t, transport.Live(), sess.starts["b-frames"])

	// Odd DTS slots are B-frames on their own track.
	const n = 21
	go func() {
		for i := int64(0); i < n; i++ {
			class, track := media.FrameClassP, "video"
			switch {
			case i%10 == 0:
				class = media.FrameClassI
			case i%2 == 1:
				class, track = media.FrameClassB, "b-frames"
			}
			select {
			case sess.tracks[track] <- encodeFrame(class, i*512, i*512):
			case <-ctx.Done():
				return
			}
		}
		close(sess.tracks["video"])
		close(sess.tracks["b-frames"])
	}()

	// The reorder buffer holds up to 200ms and the decoder two pictures;
	// both are flushed once the tracks end.
	sink.waitFor(t, n)
	require.NoError(t, p.Pause(ctx))

	frames := sink.rendered()
	require.Len(t, frames, n)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].pts, frames[i-1].pts)
	}

	summary, _ := p.Summary()
	assert.Zero(t, summary.TotalFramesDropped)
	assert.Equal(t, n, summary.FramesExtracted)
}

func TestPlayerPauseCancelsStalledStart(t *testing.T) {
	// The init track never delivers its segment.
	sess := newFakeSession("init", "video")
	p, _, _ := newTestPlayer(testPlayerConfig(config.ModeGOP), sess)

	played := make(chan error, 1)
	go func() {
		_, err := p.Play(context.Background(), transport.Live())
		played <- err
	}()

	require.Eventually(t, func() bool { return p.Info().SessionID != "" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "buffering", p.Info().State)

	_, err := p.Play(context.Background(), transport.Live())
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))

	paused := make(chan error, 1)
	go func() { paused <- p.Pause(context.Background()) }()

	select {
	case err := <-paused:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Pause did not cancel the pending start")
	}
	select {
	case err := <-played:
		assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Pause")
	}

	assert.Equal(t, StatePaused, p.State())
	assert.Empty(t, p.Info().SessionID)
	assert.Equal(t, []string{"init"}, sess.unsubscribed)
	assert.False(t, p.Recorder().Active())

	// The player is reusable once the init segment shows up.
	sess.tracks["init"] <- []byte("init")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = p.Play(ctx, transport.Live())
	require.NoError(t, err)
	require.NoError(t, p.Pause(ctx))
}

func TestPlayerSubscribeFailure(t *testing.T) {
	sess := newFakeSession("init")
	sess.tracks["init"] <- []byte("init")
	p, _, bus := newTestPlayer(testPlayerConfig(config.ModeGOP), sess)

	_, err := p.Play(context.Background(), transport.Live())
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)
	assert.Equal(t, StatePaused, p.State())
	assert.Equal(t, []string{"init"}, sess.unsubscribed)
	assert.False(t, p.Recorder().Active())
	assert.Equal(t, EventBufferingStart, nextEvent(t, bus).Kind)

	err = p.Pause(context.Background())
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))
}

func TestPlayerMalformedFrameIsFatal(t *testing.T) {
	sess := newFakeSession("init", "video")
	sess.tracks["init"] <- []byte("init")
	p, _, _ := newTestPlayer(testPlayerConfig(config.ModeGOP), sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Play(ctx, transport.Live())
	require.NoError(t, err)

	sess.tracks["video"] <- []byte{0x02, 0x00}

	select {
	case err := <-p.Err():
		assert.ErrorIs(t, err, errors.ErrMalformedFrame)
		assert.True(t, errors.IsFatal(err))
	case <-ctx.Done():
		t.Fatal("no fatal error reported")
	}
	assert.Equal(t, StatePaused, p.State())
	require.NoError(t, p.Pause(ctx))
}

func TestPlayerMissingCodecConfig(t *testing.T) {
	sess := newFakeSession("init", "video")
	sess.tracks["init"] <- []byte("init")

	p := New(testPlayerConfig(config.ModeGOP), Deps{
		Session:    sess,
		NewDemuxer: func() demux.Demuxer { return &fakeDemuxer{} },
		NewDecoder: func() decode.Decoder { return reference.New(2, nil) },
		Sink:       RenderFunc(func(*media.Frame) {}),
	}, logger.NewNullLogger(), WithClock(NewVirtualClock(t0)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Play(ctx, transport.Live())
	require.NoError(t, err)

	sess.tracks["video"] <- encodeFrame(media.FrameClassI, 0, 0)

	select {
	case err := <-p.Err():
		pbErr, ok := errors.GetPlaybackError(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrorTypeCodecConfigMissing, pbErr.Type)
	case <-ctx.Done():
		t.Fatal("no fatal error reported")
	}
	require.NoError(t, p.Pause(ctx))
}

// skewDecoder shifts every chunk timestamp, so no decoded picture matches a
// submitted frame.
type skewDecoder struct {
	*reference.Decoder
}

func (d skewDecoder) Decode(c media.EncodedChunk) error {
	c.Timestamp++
	return d.Decoder.Decode(c)
}

func TestPlayerUnmatchedPictureIsFatal(t *testing.T) {
	sess := newFakeSession("init", "video")
	sess.tracks["init"] <- []byte("init")

	p := New(testPlayerConfig(config.ModeGOP), Deps{
		Session:    sess,
		NewDemuxer: func() demux.Demuxer { return &fakeDemuxer{codec: "avc1.42c01e"} },
		NewDecoder: func() decode.Decoder { return skewDecoder{reference.New(2, nil)} },
		Sink:       RenderFunc(func(*media.Frame) {}),
	}, logger.NewNullLogger(), WithClock(NewVirtualClock(t0)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Play(ctx, transport.Live())
	require.NoError(t, err)

	video := sess.tracks["video"]
	video <- encodeFrame(media.FrameClassI, 0, 0)
	video <- encodeFrame(media.FrameClassP, 512, 512)
	video <- encodeFrame(media.FrameClassP, 1024, 1024)

	select {
	case err := <-p.Err():
		assert.ErrorIs(t, err, errors.ErrUnmatchedDecodedPicture)
		assert.True(t, errors.IsFatal(err))
	case <-ctx.Done():
		t.Fatal("no fatal error reported")
	}
	assert.Equal(t, StatePaused, p.State())
	assert.Zero(t, p.Info().FramesRendered)
	require.NoError(t, p.Pause(ctx))
}

func TestPlayerLateReferenceFrameIsFatal(t *testing.T) {
	sess := newFakeSession("init", "video", "b-frames")
	sess.tracks["init"] <- []byte("init")
	p, _, _ := newTestPlayer(testPlayerConfig(config.ModeBFrame), sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Play(ctx, transport.Live())
	require.NoError(t, err)

	// A 200ms window at 12800Hz is 2560 units: P3584 forces I0 and P512
	// out, after which P256 is behind the emitted frames.
	video := sess.tracks["video"]
	video <- encodeFrame(media.FrameClassI, 0, 0)
	for dts := int64(512); dts <= 3584; dts += 512 {
		video <- encodeFrame(media.FrameClassP, dts, dts)
	}
	video <- encodeFrame(media.FrameClassP, 256, 256)

	select {
	case err := <-p.Err():
		assert.ErrorIs(t, err, errors.ErrOrderingViolation)
		assert.True(t, errors.IsFatal(err))
	case <-ctx.Done():
		t.Fatal("no fatal error reported")
	}
	assert.Equal(t, StatePaused, p.State())

	summary, _ := p.Summary()
	assert.Zero(t, summary.TotalFramesDropped, "late I/P frames are not dropped")
	require.NoError(t, p.Pause(ctx))
}
