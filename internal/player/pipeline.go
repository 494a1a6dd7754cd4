package player

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/demux"
	playerrors "github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/frame"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
	"github.com/zsiec/moqplay/internal/metrics"
	"github.com/zsiec/moqplay/internal/reorder"
	"github.com/zsiec/moqplay/internal/session"
	"github.com/zsiec/moqplay/internal/transport"
)

// pipeline carries one session's frames from the transport to the decoder:
// parse, gate, demux, decode submission. It runs on a single goroutine.
type pipeline struct {
	parser   *frame.Parser
	gate     reorder.Gate
	queue    *demux.CorrelationQueue
	cmap     *decode.CorrelationMap
	decoder  decode.Decoder
	recorder *session.Recorder

	configured bool

	log     logger.Logger
	sampled *logger.SampledLogger
}

// run consumes chunks until the channel closes or a fatal error occurs.
// Tracks that end cleanly are logged. Once every track has ended the gate is
// flushed into the decoder and the decoder is flushed, so the tail of a
// bounded stream still reaches the scheduler.
func (p *pipeline) run(ctx context.Context, chunks <-chan transport.Chunk) error {
	for c := range chunks {
		if c.Err != nil {
			if errors.Is(c.Err, io.EOF) {
				p.log.WithField("track", c.Track).Info("Track ended")
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			return playerrors.WrapTransportError(c.Err, "failed to read "+c.Track+" track")
		}

		if err := p.handle(c.Data); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	frames, err := p.gate.Flush()
	if err != nil {
		return err
	}
	if err := p.submit(frames); err != nil {
		return err
	}
	if !p.configured {
		return nil
	}
	if err := p.decoder.Flush(); err != nil {
		return playerrors.WrapInternalError(err, "failed to flush decoder")
	}
	p.log.Info("Stream ended")
	return nil
}

func (p *pipeline) handle(chunk []byte) error {
	f, err := p.parser.Parse(chunk)
	if err != nil {
		return err
	}
	p.recorder.FrameReceived(f)
	p.sampled.Log(logrus.DebugLevel, logger.CategoryFrameReceived, "Frame received", map[string]interface{}{
		"class": f.Class.String(),
		"dts":   f.DTS,
		"pts":   f.PTS,
		"size":  len(f.Payload),
	})

	ready, err := p.gate.Push(f)
	if err != nil {
		return err
	}
	metrics.SetReorderBufferDepth(p.gate.Stats().Buffered)
	return p.submit(ready)
}

func (p *pipeline) submit(frames []*media.RawFrame) error {
	for _, f := range frames {
		if err := p.queue.Submit(f); err != nil {
			return err
		}
	}
	metrics.SetCorrelationPending("demux", p.queue.Pending())
	return nil
}

// onSample is the demux correlation queue's handler: it configures the
// decoder from the first sample and submits every sample for decoding.
func (p *pipeline) onSample(s *media.ParsedSample) error {
	if !p.configured {
		if s.Config.Codec == "" {
			return playerrors.NewCodecConfigMissingError("first sample carries no decoder configuration")
		}
		if err := p.decoder.Configure(s.Config); err != nil {
			return playerrors.WrapInternalError(err, "failed to configure decoder")
		}
		p.configured = true
		p.log.WithFields(map[string]interface{}{
			"codec":  s.Config.Codec,
			"width":  s.Config.CodedWidth,
			"height": s.Config.CodedHeight,
		}).Info("Decoder configured")
	}

	p.recorder.FrameExtracted(s.FrameInfo)

	key, err := p.cmap.Insert(s.FrameInfo)
	if err != nil {
		return err
	}
	metrics.SetCorrelationPending("decode", p.cmap.Len())

	return p.decoder.Decode(media.EncodedChunk{
		IsSync:    s.IsSync,
		Payload:   s.Payload,
		Timestamp: key,
		Duration:  p.cmap.Duration(int64(s.Duration)),
	})
}

// onDrop records frames discarded by the gate.
func (p *pipeline) onDrop(f *media.RawFrame) {
	p.recorder.FrameDropped(f)
	p.sampled.Log(logrus.DebugLevel, logger.CategoryFrameDropped, "Late frame dropped", map[string]interface{}{
		"class": f.Class.String(),
		"dts":   f.DTS,
	})
}
