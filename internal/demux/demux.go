// Package demux pairs frames appended to a container demuxer with the samples
// the demuxer emits for them.
package demux

import (
	"fmt"
	"sync"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

// SampleHandler receives demuxed samples. An error aborts the session.
type SampleHandler func(s *media.ParsedSample) error

// Demuxer turns an init segment and per-frame fragments into samples. It
// must emit exactly one sample per AppendSample call, in call order. The
// sample may be delivered before AppendSample returns or later, but always
// before the next AppendSample call.
type Demuxer interface {
	Configure(init []byte) (media.TrackInfo, error)
	SetSampleHandler(h SampleHandler)
	AppendSample(data []byte) error
}

// CorrelationQueue re-attaches frame metadata to demuxed samples. Samples do
// not echo anything the caller supplied, so at most one frame may be
// outstanding: a second Submit before the first sample arrives is fatal.
type CorrelationQueue struct {
	demuxer Demuxer
	handler SampleHandler

	mu      sync.Mutex
	pending *media.RawFrame
}

// NewCorrelationQueue installs itself as d's sample handler and forwards
// each completed sample to handler.
func NewCorrelationQueue(d Demuxer, handler SampleHandler) *CorrelationQueue {
	q := &CorrelationQueue{
		demuxer: d,
		handler: handler,
	}
	d.SetSampleHandler(q.onSample)
	return q
}

// Submit records f and appends its payload to the demuxer.
func (q *CorrelationQueue) Submit(f *media.RawFrame) error {
	q.mu.Lock()
	if q.pending != nil {
		prev := q.pending
		q.mu.Unlock()
		return errors.NewCorrelationOverrunError(
			fmt.Sprintf("frame dts=%d submitted while dts=%d awaits its sample", f.DTS, prev.DTS))
	}
	q.pending = f
	q.mu.Unlock()

	if err := q.demuxer.AppendSample(f.Payload); err != nil {
		return err
	}
	return nil
}

func (q *CorrelationQueue) onSample(s *media.ParsedSample) error {
	q.mu.Lock()
	f := q.pending
	q.pending = nil
	q.mu.Unlock()
	if f == nil {
		return errors.NewCorrelationUnderflowError(
			fmt.Sprintf("demuxer emitted a sample (pts=%d) with no frame pending", s.PTS))
	}

	s.FrameInfo = f.FrameInfo
	return q.handler(s)
}

// Pending returns the number of frames awaiting their sample, 0 or 1.
func (q *CorrelationQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != nil {
		return 1
	}
	return 0
}
