package moq

import (
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Subgroup stream types. Bit 0 signals per-object extension headers; the
// remaining low bits select how the subgroup ID is carried.
const (
	StreamTypeSubgroupMin    uint64 = 0x08
	StreamTypeSubgroupSIDExt uint64 = 0x0d
	StreamTypeSubgroupMax    uint64 = 0x0d
)

const (
	subgroupIDZero        = 0
	subgroupIDFirstObject = 1
	subgroupIDExplicit    = 2
)

// ObjectStatusNormal is the status of an object that carries a payload.
const ObjectStatusNormal uint64 = 0x0

// SubgroupHeader opens every subgroup data stream.
type SubgroupHeader struct {
	StreamType uint64
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   byte
}

func (h SubgroupHeader) hasExtensions() bool {
	return h.StreamType&0x01 == 1
}

func (h SubgroupHeader) subgroupMode() uint64 {
	return (h.StreamType - StreamTypeSubgroupMin) / 2
}

// Object is a single MoQ object read from a subgroup stream.
type Object struct {
	GroupID    uint64
	ObjectID   uint64
	Extensions []byte
	Status     uint64
	Payload    []byte
}

// SubgroupReader reads objects from one subgroup data stream.
type SubgroupReader struct {
	r        quicvarint.Reader
	header   SubgroupHeader
	resolved bool
}

// NewSubgroupReader reads the stream header from r.
func NewSubgroupReader(r io.Reader) (*SubgroupReader, error) {
	vr := quicvarint.NewReader(r)

	streamType, err := quicvarint.Read(vr)
	if err != nil {
		return nil, &ParseError{Field: "stream_type", Err: err}
	}
	if streamType < StreamTypeSubgroupMin || streamType > StreamTypeSubgroupMax {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownStreamType, streamType)
	}

	h := SubgroupHeader{StreamType: streamType}
	if h.TrackAlias, err = quicvarint.Read(vr); err != nil {
		return nil, &ParseError{Field: "track_alias", Err: err}
	}
	if h.GroupID, err = quicvarint.Read(vr); err != nil {
		return nil, &ParseError{Field: "group_id", Err: err}
	}

	sr := &SubgroupReader{r: vr}
	switch h.subgroupMode() {
	case subgroupIDExplicit:
		if h.SubgroupID, err = quicvarint.Read(vr); err != nil {
			return nil, &ParseError{Field: "subgroup_id", Err: err}
		}
		sr.resolved = true
	case subgroupIDZero:
		sr.resolved = true
	}

	if h.Priority, err = vr.ReadByte(); err != nil {
		return nil, &ParseError{Field: "publisher_priority", Err: err}
	}
	sr.header = h
	return sr, nil
}

// Header returns the stream header. For streams whose subgroup ID is the
// first object ID, SubgroupID is only valid after the first ReadObject.
func (s *SubgroupReader) Header() SubgroupHeader {
	return s.header
}

// ReadObject reads the next object. It returns io.EOF when the stream ends
// cleanly on an object boundary.
func (s *SubgroupReader) ReadObject() (*Object, error) {
	objectID, err := quicvarint.Read(s.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ParseError{Field: "object_id", Err: err}
	}
	if !s.resolved {
		s.header.SubgroupID = objectID
		s.resolved = true
	}

	obj := &Object{GroupID: s.header.GroupID, ObjectID: objectID}
	if s.header.hasExtensions() {
		extLen, err := quicvarint.Read(s.r)
		if err != nil {
			return nil, &ParseError{Field: "extensions_length", Err: unexpected(err)}
		}
		if extLen > 0 {
			obj.Extensions = make([]byte, extLen)
			if _, err := io.ReadFull(s.r, obj.Extensions); err != nil {
				return nil, &ParseError{Field: "extensions", Err: unexpected(err)}
			}
		}
	}

	payloadLen, err := quicvarint.Read(s.r)
	if err != nil {
		return nil, &ParseError{Field: "payload_length", Err: unexpected(err)}
	}
	if payloadLen == 0 {
		if obj.Status, err = quicvarint.Read(s.r); err != nil {
			return nil, &ParseError{Field: "object_status", Err: unexpected(err)}
		}
		return obj, nil
	}

	obj.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(s.r, obj.Payload); err != nil {
		return nil, &ParseError{Field: "payload", Err: unexpected(err)}
	}
	return obj, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// AppendSubgroupHeader appends a subgroup stream header with an explicit
// subgroup ID and per-object extensions.
func AppendSubgroupHeader(buf []byte, alias, groupID, subgroupID uint64, priority byte) []byte {
	buf = quicvarint.Append(buf, StreamTypeSubgroupSIDExt)
	buf = quicvarint.Append(buf, alias)
	buf = quicvarint.Append(buf, groupID)
	buf = quicvarint.Append(buf, subgroupID)
	return append(buf, priority)
}

// AppendObject appends an object in the extension-carrying layout.
func AppendObject(buf []byte, objectID uint64, exts, payload []byte) []byte {
	buf = quicvarint.Append(buf, objectID)
	buf = quicvarint.Append(buf, uint64(len(exts)))
	buf = append(buf, exts...)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	if len(payload) == 0 {
		return quicvarint.Append(buf, ObjectStatusNormal)
	}
	return append(buf, payload...)
}
