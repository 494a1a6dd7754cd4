package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/metrics"
	"github.com/zsiec/moqplay/internal/session"
)

// State is the playback state of a scheduler.
type State int32

const (
	StatePaused State = iota
	StateBuffering
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// RenderSink displays frames. RenderFrame is called synchronously from the
// pacing goroutine; the frame is released when it returns.
type RenderSink interface {
	RenderFrame(f *media.Frame)
}

// RenderFunc adapts a function to RenderSink.
type RenderFunc func(f *media.Frame)

func (fn RenderFunc) RenderFrame(f *media.Frame) { fn(f) }

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// BufferMs is the presentation buffer span that ends BUFFERING.
	BufferMs int64
	// GOPJump in track units; zero disables the GOP discontinuity rule.
	GOPJump int64

	Clock    Clock
	Sink     RenderSink
	Listener EventListener
	Recorder *session.Recorder
	// Epoch returns the availability time (µs) of the first frame of the
	// session, used for latency.
	Epoch func() (int64, bool)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State          string  `json:"state"`
	BufferedFrames int     `json:"buffered_frames"`
	BufferedMs     float64 `json:"buffered_ms"`
	FramesRendered uint64  `json:"frames_rendered"`
	IsRebuffering  bool    `json:"is_rebuffering"`
}

// Scheduler owns the presentation buffer and paces frames to the sink.
// Enqueue is called from a single goroutine; Play, Pause and the accessors
// may be called from any goroutine.
type Scheduler struct {
	cfg     SchedulerConfig
	log     logger.Logger
	sampled *logger.SampledLogger

	mu             sync.Mutex
	state          State
	buffer         []*media.Frame
	pacer          pacer
	rebuffering    bool
	bufferingSince time.Time
	hasFirstMedia  bool
	firstMediaTime int64 // µs

	// generation invalidates pacing goroutines started before the last
	// Play or Pause.
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	rendered atomic.Uint64
}

// NewScheduler creates a scheduler in the PAUSED state.
func NewScheduler(cfg SchedulerConfig, log logger.Logger) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = RenderFunc(func(*media.Frame) {})
	}
	if cfg.Listener == nil {
		cfg.Listener = listeners(nil)
	}
	if cfg.Epoch == nil {
		cfg.Epoch = func() (int64, bool) { return 0, false }
	}

	log = log.WithField("component", "scheduler")
	return &Scheduler{
		cfg:     cfg,
		log:     log,
		sampled: logger.NewSampledLogger(log).WithSampler(logger.CategoryFrameRendered, time.Second, 1),
		state:   StatePaused,
		pacer:   pacer{gopJump: cfg.GOPJump},
	}
}

// Play clears the presentation buffer and enters BUFFERING.
func (s *Scheduler) Play() {
	s.mu.Lock()
	released := s.stopLocked()
	s.state = StateBuffering
	s.pacer = pacer{gopJump: s.cfg.GOPJump}
	s.rebuffering = false
	s.hasFirstMedia = false
	now := s.cfg.Clock.Now()
	s.bufferingSince = now
	s.mu.Unlock()

	releaseAll(released)
	metrics.SetPresentationBuffer(0)
	metrics.SetPlayerState(StateBuffering.String())
	s.bufferingStarted(BufferingEvent{Timestamp: now})
}

// Pause stops pacing before the next frame and discards buffered frames.
// Frames enqueued while paused are released immediately.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	released := s.stopLocked()
	s.state = StatePaused
	s.mu.Unlock()

	releaseAll(released)
	metrics.SetPresentationBuffer(0)
	metrics.SetPlayerState(StatePaused.String())
}

// Wait blocks until pacing goroutines stopped by Pause have exited. It must
// not be called from the render sink.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Enqueue appends a decoded frame to the presentation buffer. The scheduler
// takes ownership of f.
func (s *Scheduler) Enqueue(f *media.Frame) {
	s.mu.Lock()
	if s.state == StatePaused {
		s.mu.Unlock()
		f.Release()
		return
	}

	s.buffer = append(s.buffer, f)
	span := s.spanLocked()

	if s.state != StateBuffering || span < float64(s.cfg.BufferMs) {
		s.mu.Unlock()
		metrics.SetPresentationBuffer(span)
		return
	}

	s.state = StatePlaying
	s.pacer.reset()
	now := s.cfg.Clock.Now()
	ev := BufferingEvent{Timestamp: now, IsRebuffering: s.rebuffering}
	since := s.bufferingSince
	s.rebuffering = true

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.generation++
	gen := s.generation
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.SetPresentationBuffer(span)
	metrics.SetPlayerState(StatePlaying.String())
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.BufferingEnded(now, since)
	}
	s.cfg.Listener.OnBufferingEnd(ev)
	s.log.WithFields(map[string]interface{}{
		"buffered_ms":    span,
		"rebuffering":    ev.IsRebuffering,
		"buffering_time": now.Sub(since).String(),
	}).Info("Buffering ended")

	go s.pace(ctx, gen)
}

// State returns the current playback state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state.String(),
		BufferedFrames: len(s.buffer),
		BufferedMs:     s.spanLocked(),
		FramesRendered: s.rendered.Load(),
		IsRebuffering:  s.rebuffering,
	}
}

func (s *Scheduler) pace(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.generation != gen || s.state != StatePlaying {
			s.mu.Unlock()
			return
		}

		if len(s.buffer) == 0 {
			s.state = StateBuffering
			s.pacer.reset()
			now := s.cfg.Clock.Now()
			s.bufferingSince = now
			ev := BufferingEvent{Timestamp: now, IsRebuffering: s.rebuffering}
			s.mu.Unlock()

			metrics.SetPlayerState(StateBuffering.String())
			s.bufferingStarted(ev)
			return
		}

		f := s.buffer[0]
		s.buffer[0] = nil
		s.buffer = s.buffer[1:]
		span := s.spanLocked()
		delay := s.pacer.delay(f, s.cfg.Clock.Now())
		s.mu.Unlock()

		metrics.SetPresentationBuffer(span)

		if err := s.cfg.Clock.Sleep(ctx, delay); err != nil {
			f.Release()
			return
		}

		s.mu.Lock()
		current := s.generation == gen && s.state == StatePlaying
		s.mu.Unlock()
		if !current {
			f.Release()
			return
		}

		s.render(f)
	}
}

func (s *Scheduler) render(f *media.Frame) {
	defer f.Release()

	s.cfg.Sink.RenderFrame(f)
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	if !s.hasFirstMedia {
		s.hasFirstMedia = true
		s.firstMediaTime = f.MediaTime()
	}
	first := s.firstMediaTime
	s.pacer.rendered(f)
	s.mu.Unlock()

	s.rendered.Add(1)

	var latency float64
	if epoch, ok := s.cfg.Epoch(); ok {
		latency = latencyMs(now, epoch, f.MediaTime(), first)
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.FrameRendered(f.Class, f.MediaTime(), latency)
	}

	s.sampled.Log(logrus.DebugLevel, logger.CategoryFrameRendered, "Frame rendered", map[string]interface{}{
		"class":      f.Class.String(),
		"pts":        f.PTS,
		"latency_ms": latency,
	})
}

// latencyMs is the wall time elapsed since the session's first frame became
// available minus the media time played since the first rendered frame.
func latencyMs(now time.Time, epochMicros, mediaTime, firstMediaTime int64) float64 {
	wall := float64(now.UnixMicro()-epochMicros) / 1000
	played := float64(mediaTime-firstMediaTime) / 1000
	return wall - played
}

func (s *Scheduler) bufferingStarted(ev BufferingEvent) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.BufferingStarted(ev.Timestamp, ev.IsRebuffering)
	}
	s.cfg.Listener.OnBufferingStart(ev)
	s.log.WithField("rebuffering", ev.IsRebuffering).Info("Buffering started")
}

// spanLocked is the buffered media duration in milliseconds, including the
// duration of the newest frame.
func (s *Scheduler) spanLocked() float64 {
	if len(s.buffer) == 0 {
		return 0
	}
	oldest := s.buffer[0]
	newest := s.buffer[len(s.buffer)-1]
	return float64(newest.MediaTime()+newest.Picture.Duration-oldest.MediaTime()) / 1000
}

// stopLocked invalidates the running pacing goroutine and hands back the
// buffered frames for release outside the lock.
func (s *Scheduler) stopLocked() []*media.Frame {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	frames := s.buffer
	s.buffer = nil
	return frames
}

func releaseAll(frames []*media.Frame) {
	for _, f := range frames {
		f.Release()
	}
}
