// Package player drives a playback session: it subscribes to the stream's
// tracks, restores decode order, demuxes and decodes frames, and paces the
// decoded pictures to a render sink.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/demux"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/frame"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/reorder"
	"github.com/zsiec/moqplay/internal/session"
	"github.com/zsiec/moqplay/internal/transport"
)

// Deps are the collaborators a player is built from. A fresh demuxer and
// decoder are created for every session.
type Deps struct {
	Session    transport.Session
	NewDemuxer func() demux.Demuxer
	NewDecoder func() decode.Decoder
	Sink       RenderSink
}

// Option customizes a Player.
type Option func(*Player)

// WithClock sets the pacing clock.
func WithClock(c Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithListener adds a buffering event listener.
func WithListener(l EventListener) Option {
	return func(p *Player) { p.listeners = append(p.listeners, l) }
}

// WithRecorder sets the session recorder.
func WithRecorder(r *session.Recorder) Option {
	return func(p *Player) { p.recorder = r }
}

// Player is a single-stream playback engine. Play and Pause may be called
// repeatedly; each Play starts a new session.
type Player struct {
	cfg  config.PlayerConfig
	deps Deps

	clock     Clock
	listeners listeners
	recorder  *session.Recorder
	scheduler *Scheduler
	parser    *frame.Parser

	log     logger.Logger
	sampled *logger.SampledLogger

	mu       sync.Mutex
	current  *playback
	stopping *playback
	errc     chan error
}

// playback is the state of one Play..Pause session. It is installed as
// current before setup runs, so Pause can cancel a start that is still
// waiting on the relay. Fields written by setup are owned by Play until
// setupDone is closed; track is guarded by Player.mu.
type playback struct {
	id      string
	track   media.TrackInfo
	subs    []transport.Subscription
	decoder decode.Decoder
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cancelSetup context.CancelFunc
	setupDone   chan struct{}

	failOnce sync.Once
}

// Info describes the player for status reporting.
type Info struct {
	SessionID string          `json:"session_id,omitempty"`
	Mode      string          `json:"mode"`
	Track     media.TrackInfo `json:"track"`
	Status
}

// New creates a paused player.
func New(cfg config.PlayerConfig, deps Deps, log logger.Logger, opts ...Option) *Player {
	p := &Player{
		cfg:    cfg,
		deps:   deps,
		clock:  SystemClock(),
		parser: frame.NewParser(),
		log:    log.WithField("component", "player"),
		errc:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.recorder == nil {
		p.recorder = session.NewRecorder(p.clock.Now)
	}
	p.sampled = logger.NewSampledLogger(p.log).
		WithSampler(logger.CategoryFrameDropped, time.Second, 5).
		WithSampler(logger.CategoryFrameReceived, time.Second, 1)

	var gopJump int64
	if cfg.Mode == config.ModeGOP {
		gopJump = cfg.GOPJump
	}
	p.scheduler = NewScheduler(SchedulerConfig{
		BufferMs: cfg.BufferMs,
		GOPJump:  gopJump,
		Clock:    p.clock,
		Sink:     deps.Sink,
		Listener: p.listeners,
		Recorder: p.recorder,
		Epoch:    p.parser.AvailabilityEpoch,
	}, log)
	return p
}

// Err delivers the first fatal error of a session. The session stops
// playing; Pause must still be called to release it.
func (p *Player) Err() <-chan error {
	return p.errc
}

// Recorder returns the session recorder.
func (p *Player) Recorder() *session.Recorder {
	return p.recorder
}

// State returns the scheduler state.
func (p *Player) State() State {
	return p.scheduler.State()
}

// Info returns a snapshot for status reporting.
func (p *Player) Info() Info {
	info := Info{Mode: p.cfg.Mode, Status: p.scheduler.Status()}
	p.mu.Lock()
	if p.current != nil {
		info.SessionID = p.current.id
		info.Track = p.current.track
	}
	p.mu.Unlock()
	return info
}

// Summary aggregates the logs of the current or last session.
func (p *Player) Summary() (session.Summary, bool) {
	logs, ok := p.recorder.Logs()
	if !ok {
		return session.Summary{}, false
	}
	return session.Summarize(logs), true
}

// Play starts a session at start and returns its ID. ctx bounds the setup
// (subscriptions and init segment); the session itself runs until Pause.
// Pause may be called while Play is still setting up, in which case Play
// returns an INVALID_STATE error.
func (p *Player) Play(ctx context.Context, start transport.StartAt) (string, error) {
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return "", errors.NewInvalidStateError("player is already playing")
	}
	if p.stopping != nil {
		p.mu.Unlock()
		return "", errors.NewInvalidStateError("player is stopping")
	}
	select {
	case <-p.errc:
	default:
	}

	setupCtx, cancelSetup := context.WithCancel(ctx)
	defer cancelSetup()
	pb := &playback{
		id:          uuid.New().String(),
		cancelSetup: cancelSetup,
		setupDone:   make(chan struct{}),
	}
	p.current = pb
	p.recorder.StartSession(pb.id)
	p.parser.Reset()
	p.scheduler.Play()
	p.mu.Unlock()

	log := p.log.WithField("session_id", pb.id)
	err := p.setup(setupCtx, pb, start, log)
	close(pb.setupDone)

	p.mu.Lock()
	owned := p.current == pb
	if err != nil && owned {
		p.current = nil
		p.stopping = pb
	}
	p.mu.Unlock()

	if !owned {
		// Pause took the session and tears it down once setup has returned.
		log.Info("Playback paused during startup")
		return "", errors.NewInvalidStateError("playback was paused during startup")
	}
	if err != nil {
		p.teardown(context.WithoutCancel(ctx), pb)
		p.stopped(pb)
		log.WithError(err).Error("Failed to start playback")
		return "", err
	}

	log.WithFields(map[string]interface{}{
		"mode":  p.cfg.Mode,
		"start": start.String(),
		"codec": pb.track.Codec,
	}).Info("Playback started")
	return pb.id, nil
}

func (p *Player) setup(ctx context.Context, pb *playback, start transport.StartAt, log logger.Logger) error {
	sess := p.deps.Session

	initSub, err := sess.Subscribe(ctx, p.cfg.Namespace, p.cfg.InitTrack, transport.FromGroup(0))
	if err != nil {
		return err
	}
	pb.subs = append(pb.subs, initSub)

	init, err := initSub.Next(ctx)
	if err != nil {
		return errors.WrapSubscriptionError(err, p.cfg.InitTrack)
	}

	demuxer := p.deps.NewDemuxer()
	track, err := demuxer.Configure(init)
	if err != nil {
		return err
	}
	p.mu.Lock()
	pb.track = track
	p.mu.Unlock()

	cmap, err := decode.NewCorrelationMap(track.Timescale)
	if err != nil {
		return err
	}

	pb.decoder = p.deps.NewDecoder()
	pl := &pipeline{
		parser:   p.parser,
		cmap:     cmap,
		decoder:  pb.decoder,
		recorder: p.recorder,
		log:      log,
		sampled:  p.sampled,
	}
	pl.queue = demux.NewCorrelationQueue(demuxer, pl.onSample)

	tracks := []string{p.cfg.VideoTrack}
	if p.cfg.Mode == config.ModeBFrame {
		pl.gate = reorder.NewBuffer(reorder.BufferConfig{
			Window:        reorder.WindowUnits(p.cfg.ReorderBufferMs, track.Timescale),
			FrameDuration: p.cfg.FrameDuration,
			OnDrop:        pl.onDrop,
		}, log)
		tracks = append(tracks, p.cfg.BFrameTrack)
	} else {
		pl.gate = reorder.NewStrictGate(pl.onDrop, log)
	}

	mediaSubs := make([]transport.Subscription, 0, len(tracks))
	for _, name := range tracks {
		sub, err := sess.Subscribe(ctx, p.cfg.Namespace, name, start)
		if err != nil {
			return err
		}
		pb.subs = append(pb.subs, sub)
		mediaSubs = append(mediaSubs, sub)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	pb.cancel = cancel
	chunks := transport.Merge(runCtx, mediaSubs...)

	pb.wg.Add(2)
	go func() {
		defer pb.wg.Done()
		if err := pl.run(runCtx, chunks); err != nil && runCtx.Err() == nil {
			p.fail(pb, err)
		}
	}()
	go func() {
		defer pb.wg.Done()
		p.drainDecoder(pb, cmap)
	}()
	return nil
}

// drainDecoder matches decoder output to frames and hands them to the
// scheduler until the decoder's output closes.
func (p *Player) drainDecoder(pb *playback, cmap *decode.CorrelationMap) {
	for pic := range pb.decoder.Output() {
		f, err := cmap.Resolve(pic)
		if err != nil {
			pic.Close()
			p.fail(pb, err)
			continue
		}
		p.recorder.FrameDecoded(f.FrameInfo)
		p.scheduler.Enqueue(f)
	}
}

// fail stops playback of pb on its first fatal error.
func (p *Player) fail(pb *playback, err error) {
	pb.failOnce.Do(func() {
		p.mu.Lock()
		current := p.current == pb
		p.mu.Unlock()
		if !current {
			return
		}

		p.log.WithError(err).WithField("session_id", pb.id).Error("Playback failed")
		p.scheduler.Pause()
		pb.cancel()
		select {
		case p.errc <- err:
		default:
		}
	})
}

// Pause stops the session: pacing stops before the next frame, every track
// is unsubscribed, the decoder is closed and the session logs are sealed.
func (p *Player) Pause(ctx context.Context) error {
	p.mu.Lock()
	pb := p.current
	if pb != nil {
		p.current = nil
		p.stopping = pb
	}
	p.mu.Unlock()

	if pb == nil {
		return errors.NewInvalidStateError("player is not playing")
	}

	// A start still waiting on the relay is abandoned; its partial state is
	// torn down here once setup returns.
	pb.cancelSetup()
	<-pb.setupDone

	err := p.teardown(ctx, pb)
	p.stopped(pb)
	p.log.WithField("session_id", pb.id).Info("Playback paused")
	return err
}

// stopped allows the next Play once pb has been torn down.
func (p *Player) stopped(pb *playback) {
	p.mu.Lock()
	if p.stopping == pb {
		p.stopping = nil
	}
	p.mu.Unlock()
}

// teardown releases everything pb acquired. It returns the first
// unsubscribe failure.
func (p *Player) teardown(ctx context.Context, pb *playback) error {
	p.scheduler.Pause()
	if pb.cancel != nil {
		pb.cancel()
	}

	var firstErr error
	for _, sub := range pb.subs {
		if err := p.deps.Session.Unsubscribe(ctx, sub); err != nil {
			p.log.WithError(err).WithField("track", sub.Track()).Warn("Failed to unsubscribe")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if pb.decoder != nil {
		if err := pb.decoder.Close(); err != nil {
			p.log.WithError(err).Warn("Failed to close decoder")
		}
	}
	pb.wg.Wait()
	p.scheduler.Wait()
	p.recorder.EndSession()
	return firstErr
}
