// Package reference provides a software stand-in for a video decoder. It
// performs no pixel decoding: each picture carries a copy of its chunk. It
// does reproduce what matters to the pipeline, namely asynchronous output
// in presentation order with a bounded reorder delay.
package reference

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/zsiec/moqplay/internal/decode"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
)

// DefaultReorderDepth is the number of pictures held before the earliest one
// is emitted.
const DefaultReorderDepth = 4

// Stats holds decoder counters.
type Stats struct {
	Submitted   uint64
	Emitted     uint64
	Outstanding int64 // emitted pictures not yet closed
}

// Decoder implements decode.Decoder.
type Decoder struct {
	depth int

	in    chan media.EncodedChunk
	flush chan chan struct{}
	out   chan *media.DecodedPicture
	done  chan struct{}

	mu         sync.Mutex
	configured bool
	closeOnce  sync.Once
	started    sync.Once

	submitted   uint64
	emitted     uint64
	outstanding int64

	logger logger.Logger
}

var _ decode.Decoder = (*Decoder)(nil)

// New creates a decoder that holds up to depth pictures for reordering.
func New(depth int, log logger.Logger) *Decoder {
	if depth < 1 {
		depth = DefaultReorderDepth
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Decoder{
		depth:  depth,
		in:     make(chan media.EncodedChunk),
		flush:  make(chan chan struct{}),
		out:    make(chan *media.DecodedPicture),
		done:   make(chan struct{}),
		logger: log.WithField("component", "reference_decoder"),
	}
}

// Configure implements decode.Decoder.
func (d *Decoder) Configure(cfg media.DecoderConfig) error {
	if cfg.Codec == "" {
		return errors.NewCodecConfigMissingError("decoder config has no codec")
	}

	d.mu.Lock()
	d.configured = true
	d.mu.Unlock()

	d.started.Do(func() { go d.run() })

	d.logger.WithFields(map[string]interface{}{
		"codec":  cfg.Codec,
		"width":  cfg.CodedWidth,
		"height": cfg.CodedHeight,
		"depth":  d.depth,
	}).Debug("Decoder configured")
	return nil
}

// Decode implements decode.Decoder. It blocks until the decoder accepts the
// chunk.
func (d *Decoder) Decode(chunk media.EncodedChunk) error {
	d.mu.Lock()
	configured := d.configured
	d.mu.Unlock()
	if !configured {
		return errors.NewInvalidStateError("decode called before configure")
	}

	select {
	case <-d.done:
		return errors.NewInvalidStateError("decoder is closed")
	default:
	}

	select {
	case d.in <- chunk:
		atomic.AddUint64(&d.submitted, 1)
		return nil
	case <-d.done:
		return errors.NewInvalidStateError("decoder is closed")
	}
}

// Flush implements decode.Decoder. Held pictures are emitted without waiting
// for the reorder window to fill.
func (d *Decoder) Flush() error {
	d.mu.Lock()
	configured := d.configured
	d.mu.Unlock()
	if !configured {
		return nil
	}

	select {
	case <-d.done:
		return errors.NewInvalidStateError("decoder is closed")
	default:
	}

	ack := make(chan struct{})
	select {
	case d.flush <- ack:
	case <-d.done:
		return errors.NewInvalidStateError("decoder is closed")
	}
	select {
	case <-ack:
	case <-d.done:
	}
	return nil
}

// Output implements decode.Decoder.
func (d *Decoder) Output() <-chan *media.DecodedPicture {
	return d.out
}

// Close implements decode.Decoder. Pictures still held are emitted before
// Output is closed.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		// Never configured: run was not started and nobody will close out.
		d.started.Do(func() { close(d.out) })
	})
	return nil
}

// Stats returns decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Submitted:   atomic.LoadUint64(&d.submitted),
		Emitted:     atomic.LoadUint64(&d.emitted),
		Outstanding: atomic.LoadInt64(&d.outstanding),
	}
}

func (d *Decoder) run() {
	defer close(d.out)

	var held pictureHeap
	for {
		select {
		case chunk := <-d.in:
			if chunk.IsSync {
				// A sync chunk starts a new coded sequence: everything
				// held belongs to the previous one.
				for held.Len() > 0 {
					d.emit(heap.Pop(&held).(*media.DecodedPicture))
				}
			}
			heap.Push(&held, d.picture(chunk))
			for held.Len() > d.depth {
				d.emit(heap.Pop(&held).(*media.DecodedPicture))
			}
		case ack := <-d.flush:
			for held.Len() > 0 {
				d.emit(heap.Pop(&held).(*media.DecodedPicture))
			}
			close(ack)
		case <-d.done:
			for held.Len() > 0 {
				d.emit(heap.Pop(&held).(*media.DecodedPicture))
			}
			return
		}
	}
}

func (d *Decoder) picture(chunk media.EncodedChunk) *media.DecodedPicture {
	data := make([]byte, len(chunk.Payload))
	copy(data, chunk.Payload)
	atomic.AddInt64(&d.outstanding, 1)
	return media.NewDecodedPicture(chunk.Timestamp, chunk.Duration, data, func() {
		atomic.AddInt64(&d.outstanding, -1)
	})
}

func (d *Decoder) emit(p *media.DecodedPicture) {
	atomic.AddUint64(&d.emitted, 1)
	d.out <- p
}

// pictureHeap orders pictures by timestamp.
type pictureHeap []*media.DecodedPicture

func (h pictureHeap) Len() int           { return len(h) }
func (h pictureHeap) Less(i, j int) bool { return h[i].Timestamp < h[j].Timestamp }
func (h pictureHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pictureHeap) Push(x interface{}) {
	*h = append(*h, x.(*media.DecodedPicture))
}

func (h *pictureHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}
