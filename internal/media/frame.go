package media

import (
	"fmt"
	"sync"
)

// FrameClass is the coding class of a video frame as carried on the wire.
// The numeric values match the one-byte class field of the frame header.
type FrameClass uint8

const (
	FrameClassP FrameClass = iota // Predictive
	FrameClassB                   // Bidirectional
	FrameClassI                   // Intra-coded (keyframe)
)

// String returns the string representation of FrameClass
func (c FrameClass) String() string {
	switch c {
	case FrameClassI:
		return "I"
	case FrameClassP:
		return "P"
	case FrameClassB:
		return "B"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the classes defined by the frame header.
func (c FrameClass) Valid() bool {
	return c <= FrameClassI
}

// IsKeyframe returns true if this is a keyframe class
func (c FrameClass) IsKeyframe() bool {
	return c == FrameClassI
}

// IsDroppable returns true if no other frame references frames of this class.
func (c FrameClass) IsDroppable() bool {
	return c == FrameClassB
}

// FrameClasses lists all classes in wire order.
var FrameClasses = []FrameClass{FrameClassP, FrameClassB, FrameClassI}

// FrameInfo is the timing metadata shared by every pipeline stage.
type FrameInfo struct {
	Class FrameClass
	PTS   int64 // presentation timestamp, track timescale units
	DTS   int64 // decode timestamp, track timescale units
}

// RawFrame is one frame as delivered by the transport, before demuxing.
// A RawFrame is never mutated after parsing.
type RawFrame struct {
	FrameInfo
	AvailabilityTime int64 // microseconds, when the frame became available at the origin
	Payload          []byte
}

func (f *RawFrame) String() string {
	return fmt.Sprintf("%s(dts=%d pts=%d size=%d)", f.Class, f.DTS, f.PTS, len(f.Payload))
}

// TrackInfo describes the video track found in an init segment.
type TrackInfo struct {
	ID        uint32
	Codec     string
	Width     int
	Height    int
	Timescale uint32
}

// DecoderConfig is what a decoder needs before it accepts chunks.
type DecoderConfig struct {
	Codec       string
	CodedWidth  int
	CodedHeight int
	Description []byte // codec specific configuration record (avcC payload for H.264)
}

// ParsedSample is a demuxed sample. The demuxer fills the container fields;
// FrameInfo is re-attached by the demux correlation queue.
type ParsedSample struct {
	FrameInfo
	Config    DecoderConfig
	IsSync    bool
	Timescale uint32
	Duration  uint32 // timescale units
	Payload   []byte
}

// EncodedChunk is a unit of work submitted to a decoder. Timestamps are in
// the decoder's timebase (microseconds).
type EncodedChunk struct {
	IsSync    bool
	Payload   []byte
	Timestamp int64
	Duration  int64
}

// DecodedPicture is decoder output. Timestamp echoes the submitted chunk's
// timestamp in the decoder timebase (microseconds).
type DecodedPicture struct {
	Timestamp int64
	Duration  int64
	Data      []byte

	once    sync.Once
	release func()
}

// NewDecodedPicture creates a picture whose resources are returned through
// release when Close is called. release may be nil.
func NewDecodedPicture(timestamp, duration int64, data []byte, release func()) *DecodedPicture {
	return &DecodedPicture{
		Timestamp: timestamp,
		Duration:  duration,
		Data:      data,
		release:   release,
	}
}

// Close releases decoder owned resources. It is safe to call more than once.
func (p *DecodedPicture) Close() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
		p.Data = nil
	})
}

// Frame is a render-ready frame: a decoded picture with its original metadata.
type Frame struct {
	FrameInfo
	Picture *DecodedPicture
}

// MediaTime returns the presentation time of the frame in microseconds.
func (f *Frame) MediaTime() int64 {
	return f.Picture.Timestamp
}

// Release returns the picture to its decoder.
func (f *Frame) Release() {
	if f.Picture != nil {
		f.Picture.Close()
	}
}
