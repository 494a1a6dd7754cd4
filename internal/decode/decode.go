// Package decode defines the decoder boundary and re-attaches frame metadata
// to decoded pictures.
package decode

import (
	"fmt"
	"sync"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

// Decoder is an asynchronous video decoder. Pictures arrive on Output in any
// order, each echoing the Timestamp of the chunk it was decoded from. Flush
// returns once every picture of the chunks submitted so far has been handed
// to Output. Output is closed after Close once every pending picture has been
// emitted.
type Decoder interface {
	Configure(cfg media.DecoderConfig) error
	Decode(chunk media.EncodedChunk) error
	Flush() error
	Output() <-chan *media.DecodedPicture
	Close() error
}

// CorrelationMap pairs submitted chunks with decoded pictures by the chunk
// timestamp in the decoder timebase (µs). Two frames whose PTS round to the
// same key cannot be told apart, so Insert rejects the second one rather than
// let Resolve pair a picture with the wrong metadata.
type CorrelationMap struct {
	conv *media.TimeBaseConverter

	mu      sync.Mutex
	pending map[int64]media.FrameInfo
}

// NewCorrelationMap creates a map for a track with the given timescale.
func NewCorrelationMap(timescale uint32) (*CorrelationMap, error) {
	conv, err := media.NewTimeBaseConverter(media.TimeBaseOf(timescale), media.TimeBaseMicros)
	if err != nil {
		return nil, errors.NewCodecConfigMissingError(fmt.Sprintf("invalid timescale %d", timescale))
	}
	return &CorrelationMap{
		conv:    conv,
		pending: make(map[int64]media.FrameInfo),
	}, nil
}

// Key converts a PTS in track units to the decoder timestamp.
func (m *CorrelationMap) Key(pts int64) int64 {
	return m.conv.Convert(pts)
}

// Duration converts a duration in track units to microseconds.
func (m *CorrelationMap) Duration(d int64) int64 {
	return m.conv.Convert(d)
}

// Insert records info and returns the timestamp to submit the chunk with.
func (m *CorrelationMap) Insert(info media.FrameInfo) (int64, error) {
	key := m.Key(info.PTS)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.pending[key]; ok {
		return 0, errors.NewDecodeKeyCollisionError(
			fmt.Sprintf("pts %d and pending pts %d both map to %dµs", info.PTS, prev.PTS, key)).
			WithDetails(map[string]interface{}{"key": key})
	}
	m.pending[key] = info
	return key, nil
}

// Resolve removes the entry for p and returns the render-ready frame.
func (m *CorrelationMap) Resolve(p *media.DecodedPicture) (*media.Frame, error) {
	m.mu.Lock()
	info, ok := m.pending[p.Timestamp]
	if ok {
		delete(m.pending, p.Timestamp)
	}
	m.mu.Unlock()

	if !ok {
		return nil, errors.NewUnmatchedDecodedPictureError(
			fmt.Sprintf("no pending frame for picture at %dµs", p.Timestamp))
	}
	return &media.Frame{FrameInfo: info, Picture: p}, nil
}

// Len returns the number of submitted chunks without a picture.
func (m *CorrelationMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
