package frame

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

// HeaderSize is the fixed header length preceding every frame payload:
// class (1) | availability µs (8) | dts (8) | pts (8), integers big-endian.
const HeaderSize = 1 + 8 + 8 + 8

// Parser turns transport chunks into RawFrames and remembers the availability
// time of the first frame of the session.
type Parser struct {
	mu       sync.Mutex
	epoch    int64
	hasEpoch bool
}

// NewParser creates a parser with no availability epoch.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes one chunk. The returned frame's payload aliases chunk.
func (p *Parser) Parse(chunk []byte) (*media.RawFrame, error) {
	if len(chunk) < HeaderSize {
		return nil, errors.NewMalformedFrameError(
			fmt.Sprintf("chunk of %d bytes is shorter than the %d byte header", len(chunk), HeaderSize))
	}

	class := media.FrameClass(chunk[0])
	if !class.Valid() {
		return nil, errors.NewMalformedFrameError(fmt.Sprintf("unknown frame class %d", chunk[0]))
	}

	f := &media.RawFrame{
		FrameInfo: media.FrameInfo{
			Class: class,
			DTS:   int64(binary.BigEndian.Uint64(chunk[9:17])),
			PTS:   int64(binary.BigEndian.Uint64(chunk[17:25])),
		},
		AvailabilityTime: int64(binary.BigEndian.Uint64(chunk[1:9])),
		Payload:          chunk[HeaderSize:],
	}

	p.mu.Lock()
	if !p.hasEpoch {
		p.epoch = f.AvailabilityTime
		p.hasEpoch = true
	}
	p.mu.Unlock()

	return f, nil
}

// AvailabilityEpoch returns the availability time (µs) of the first frame
// parsed since the last Reset.
func (p *Parser) AvailabilityEpoch() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch, p.hasEpoch
}

// Reset forgets the availability epoch. Called at the start of each session.
func (p *Parser) Reset() {
	p.mu.Lock()
	p.epoch = 0
	p.hasEpoch = false
	p.mu.Unlock()
}

// Encode builds a wire chunk for f. It is the inverse of Parse and is used by
// publishers and tests.
func Encode(f *media.RawFrame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Class)
	binary.BigEndian.PutUint64(buf[1:9], uint64(f.AvailabilityTime))
	binary.BigEndian.PutUint64(buf[9:17], uint64(f.DTS))
	binary.BigEndian.PutUint64(buf[17:25], uint64(f.PTS))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}
