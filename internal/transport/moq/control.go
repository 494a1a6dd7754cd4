// Package moq is a Media over QUIC Transport (draft-15) subscriber. It
// speaks just enough of the protocol to subscribe to tracks on a relay and
// read their objects from subgroup streams.
package moq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ Transport draft-15 message type IDs.
const (
	MsgSubscribe      uint64 = 0x03
	MsgSubscribeOK    uint64 = 0x04
	MsgSubscribeError uint64 = 0x05
	MsgUnsubscribe    uint64 = 0x0a
	MsgPublishDone    uint64 = 0x0b
	MsgGoAway         uint64 = 0x10
	MsgMaxRequestID   uint64 = 0x15
	MsgClientSetup    uint64 = 0x20
	MsgServerSetup    uint64 = 0x21
)

// Version is the MoQ Transport version: draft-15 uses 0xff000000 + draft number.
const Version uint64 = 0xff00000f

// Setup parameter keys.
const (
	ParamPath         uint64 = 0x01 // odd keys carry length-prefixed bytes
	ParamMaxRequestID uint64 = 0x02 // even keys carry a varint
)

// Subscribe filter types.
const (
	FilterNextGroupStart uint64 = 0x01
	FilterLatestObject   uint64 = 0x02
	FilterAbsoluteStart  uint64 = 0x03
	FilterAbsoluteRange  uint64 = 0x04
)

// Group order values.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// ClientSetup is the first message sent by a subscriber.
type ClientSetup struct {
	Versions     []uint64
	Path         string
	HasPath      bool
	MaxRequestID uint64
}

// ServerSetup is the relay's answer to ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	MaxRequestID    uint64
}

// Subscribe requests delivery of a track.
type Subscribe struct {
	RequestID  uint64
	Namespace  []string
	TrackName  string
	Priority   byte
	GroupOrder byte
	Forward    byte
	FilterType uint64
	StartGroup uint64 // AbsoluteStart and AbsoluteRange
	StartObj   uint64 // AbsoluteStart and AbsoluteRange
	EndGroup   uint64 // AbsoluteRange
}

// SubscribeOK confirms a subscription and assigns its track alias.
type SubscribeOK struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64
	LargestObj    uint64
}

// SubscribeError rejects a subscription.
type SubscribeError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct {
	RequestID uint64
}

// PublishDone tells the subscriber that a subscription has ended.
type PublishDone struct {
	RequestID   uint64
	StatusCode  uint64
	StreamCount uint64
	Reason      string
}

// GoAway asks the subscriber to move to a new session.
type GoAway struct {
	NewSessionURI string
}

// ReadControlMsg reads one control message.
// Wire format: [type (varint)] [length (uint16 big-endian)] [payload].
func ReadControlMsg(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}

	return msgType, payload, nil
}

// WriteControlMsg writes one control message with a single Write call.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("moq: control payload of %d bytes exceeds 65535", len(payload))
	}
	buf := make([]byte, 0, quicvarint.Len(msgType)+2+len(payload))
	buf = quicvarint.Append(buf, msgType)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// SerializeClientSetup serializes a CLIENT_SETUP payload.
func SerializeClientSetup(cs ClientSetup) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, uint64(len(cs.Versions)))
	for _, v := range cs.Versions {
		buf = quicvarint.Append(buf, v)
	}

	numParams := uint64(1)
	if cs.HasPath {
		numParams++
	}
	buf = quicvarint.Append(buf, numParams)
	if cs.HasPath {
		buf = quicvarint.Append(buf, ParamPath)
		buf = appendVarIntBytes(buf, []byte(cs.Path))
	}
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, cs.MaxRequestID)
	return buf
}

// ParseClientSetup parses a CLIENT_SETUP payload.
func ParseClientSetup(data []byte) (ClientSetup, error) {
	r := newBufReader(data)
	var cs ClientSetup

	numVersions, err := r.readVarint()
	if err != nil {
		return cs, &ParseError{Field: "num_versions", Err: err}
	}
	for i := uint64(0); i < numVersions; i++ {
		v, err := r.readVarint()
		if err != nil {
			return cs, &ParseError{Field: "version", Err: err}
		}
		cs.Versions = append(cs.Versions, v)
	}

	err = r.readParams(func(key uint64, val []byte, num uint64) {
		switch key {
		case ParamPath:
			cs.Path = string(val)
			cs.HasPath = true
		case ParamMaxRequestID:
			cs.MaxRequestID = num
		}
	})
	return cs, err
}

// SerializeServerSetup serializes a SERVER_SETUP payload.
func SerializeServerSetup(ss ServerSetup) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, ss.SelectedVersion)
	buf = quicvarint.Append(buf, 1)
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, ss.MaxRequestID)
	return buf
}

// ParseServerSetup parses a SERVER_SETUP payload.
func ParseServerSetup(data []byte) (ServerSetup, error) {
	r := newBufReader(data)
	var ss ServerSetup

	var err error
	ss.SelectedVersion, err = r.readVarint()
	if err != nil {
		return ss, &ParseError{Field: "selected_version", Err: err}
	}

	err = r.readParams(func(key uint64, _ []byte, num uint64) {
		if key == ParamMaxRequestID {
			ss.MaxRequestID = num
		}
	})
	return ss, err
}

// SerializeSubscribe serializes a SUBSCRIBE payload.
func SerializeSubscribe(s Subscribe) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, s.RequestID)
	buf = AppendNamespaceTuple(buf, s.Namespace)
	buf = appendVarIntBytes(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = quicvarint.Append(buf, s.FilterType)

	switch s.FilterType {
	case FilterAbsoluteStart:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
	case FilterAbsoluteRange:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
		buf = quicvarint.Append(buf, s.EndGroup)
	}

	// NumParams = 0
	buf = quicvarint.Append(buf, 0)
	return buf
}

// ParseSubscribe parses a SUBSCRIBE payload. Parameters are skipped.
func ParseSubscribe(data []byte) (Subscribe, error) {
	r := newBufReader(data)
	var s Subscribe

	var err error
	if s.RequestID, err = r.readVarint(); err != nil {
		return s, &ParseError{Field: "request_id", Err: err}
	}
	if s.Namespace, err = parseNamespaceTuple(r); err != nil {
		return s, &ParseError{Field: "namespace", Err: err}
	}
	name, err := r.readVarIntBytes()
	if err != nil {
		return s, &ParseError{Field: "track_name", Err: err}
	}
	s.TrackName = string(name)

	if s.Priority, err = r.readByte(); err != nil {
		return s, &ParseError{Field: "priority", Err: err}
	}
	if s.GroupOrder, err = r.readByte(); err != nil {
		return s, &ParseError{Field: "group_order", Err: err}
	}
	if s.Forward, err = r.readByte(); err != nil {
		return s, &ParseError{Field: "forward", Err: err}
	}
	if s.FilterType, err = r.readVarint(); err != nil {
		return s, &ParseError{Field: "filter_type", Err: err}
	}

	if s.FilterType == FilterAbsoluteStart || s.FilterType == FilterAbsoluteRange {
		if s.StartGroup, err = r.readVarint(); err != nil {
			return s, &ParseError{Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarint(); err != nil {
			return s, &ParseError{Field: "start_object", Err: err}
		}
	}
	if s.FilterType == FilterAbsoluteRange {
		if s.EndGroup, err = r.readVarint(); err != nil {
			return s, &ParseError{Field: "end_group", Err: err}
		}
	}

	return s, nil
}

// SerializeSubscribeOK serializes a SUBSCRIBE_OK payload.
func SerializeSubscribeOK(sok SubscribeOK) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sok.RequestID)
	buf = quicvarint.Append(buf, sok.TrackAlias)
	buf = quicvarint.Append(buf, sok.Expires)
	buf = append(buf, sok.GroupOrder)

	if sok.ContentExists {
		buf = append(buf, 1)
		buf = quicvarint.Append(buf, sok.LargestGroup)
		buf = quicvarint.Append(buf, sok.LargestObj)
	} else {
		buf = append(buf, 0)
	}

	buf = quicvarint.Append(buf, 0)
	return buf
}

// ParseSubscribeOK parses a SUBSCRIBE_OK payload.
func ParseSubscribeOK(data []byte) (SubscribeOK, error) {
	r := newBufReader(data)
	var sok SubscribeOK

	var err error
	if sok.RequestID, err = r.readVarint(); err != nil {
		return sok, &ParseError{Field: "request_id", Err: err}
	}
	if sok.TrackAlias, err = r.readVarint(); err != nil {
		return sok, &ParseError{Field: "track_alias", Err: err}
	}
	if sok.Expires, err = r.readVarint(); err != nil {
		return sok, &ParseError{Field: "expires", Err: err}
	}
	if sok.GroupOrder, err = r.readByte(); err != nil {
		return sok, &ParseError{Field: "group_order", Err: err}
	}
	exists, err := r.readByte()
	if err != nil {
		return sok, &ParseError{Field: "content_exists", Err: err}
	}
	if exists == 1 {
		sok.ContentExists = true
		if sok.LargestGroup, err = r.readVarint(); err != nil {
			return sok, &ParseError{Field: "largest_group", Err: err}
		}
		if sok.LargestObj, err = r.readVarint(); err != nil {
			return sok, &ParseError{Field: "largest_object", Err: err}
		}
	}
	return sok, nil
}

// SerializeSubscribeError serializes a SUBSCRIBE_ERROR payload.
func SerializeSubscribeError(se SubscribeError) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, se.RequestID)
	buf = quicvarint.Append(buf, se.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(se.ReasonPhrase))
	return buf
}

// ParseSubscribeError parses a SUBSCRIBE_ERROR payload.
func ParseSubscribeError(data []byte) (SubscribeError, error) {
	r := newBufReader(data)
	var se SubscribeError

	var err error
	if se.RequestID, err = r.readVarint(); err != nil {
		return se, &ParseError{Field: "request_id", Err: err}
	}
	if se.ErrorCode, err = r.readVarint(); err != nil {
		return se, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return se, &ParseError{Field: "reason_phrase", Err: err}
	}
	se.ReasonPhrase = string(reason)
	return se, nil
}

// SerializeUnsubscribe serializes an UNSUBSCRIBE payload.
func SerializeUnsubscribe(u Unsubscribe) []byte {
	return quicvarint.Append(nil, u.RequestID)
}

// ParseUnsubscribe parses an UNSUBSCRIBE payload.
func ParseUnsubscribe(data []byte) (Unsubscribe, error) {
	reqID, err := newBufReader(data).readVarint()
	if err != nil {
		return Unsubscribe{}, &ParseError{Field: "request_id", Err: err}
	}
	return Unsubscribe{RequestID: reqID}, nil
}

// SerializePublishDone serializes a PUBLISH_DONE payload.
func SerializePublishDone(pd PublishDone) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, pd.RequestID)
	buf = quicvarint.Append(buf, pd.StatusCode)
	buf = quicvarint.Append(buf, pd.StreamCount)
	buf = appendVarIntBytes(buf, []byte(pd.Reason))
	return buf
}

// ParsePublishDone parses a PUBLISH_DONE payload.
func ParsePublishDone(data []byte) (PublishDone, error) {
	r := newBufReader(data)
	var pd PublishDone

	var err error
	if pd.RequestID, err = r.readVarint(); err != nil {
		return pd, &ParseError{Field: "request_id", Err: err}
	}
	if pd.StatusCode, err = r.readVarint(); err != nil {
		return pd, &ParseError{Field: "status_code", Err: err}
	}
	if pd.StreamCount, err = r.readVarint(); err != nil {
		return pd, &ParseError{Field: "stream_count", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return pd, &ParseError{Field: "reason_phrase", Err: err}
	}
	pd.Reason = string(reason)
	return pd, nil
}

// SerializeGoAway serializes a GOAWAY payload.
func SerializeGoAway(ga GoAway) []byte {
	return appendVarIntBytes(nil, []byte(ga.NewSessionURI))
}

// ParseGoAway parses a GOAWAY payload.
func ParseGoAway(data []byte) (GoAway, error) {
	uri, err := newBufReader(data).readVarIntBytes()
	if err != nil {
		return GoAway{}, &ParseError{Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(uri)}, nil
}

// SerializeMaxRequestID serializes a MAX_REQUEST_ID payload.
func SerializeMaxRequestID(reqID uint64) []byte {
	return quicvarint.Append(nil, reqID)
}

// ParseMaxRequestID parses a MAX_REQUEST_ID payload.
func ParseMaxRequestID(data []byte) (uint64, error) {
	v, err := newBufReader(data).readVarint()
	if err != nil {
		return 0, &ParseError{Field: "request_id", Err: err}
	}
	return v, nil
}

// parseNamespaceTuple reads [count] followed by count length-prefixed parts.
func parseNamespaceTuple(r *bufReader) ([]string, error) {
	count, err := r.readVarint()
	if err != nil {
		return nil, fmt.Errorf("read tuple count: %w", err)
	}

	parts := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		b, err := r.readVarIntBytes()
		if err != nil {
			return nil, fmt.Errorf("read tuple element %d: %w", i, err)
		}
		parts = append(parts, string(b))
	}
	return parts, nil
}

// AppendNamespaceTuple appends a namespace tuple to buf.
func AppendNamespaceTuple(buf []byte, parts []string) []byte {
	buf = quicvarint.Append(buf, uint64(len(parts)))
	for _, p := range parts {
		buf = appendVarIntBytes(buf, []byte(p))
	}
	return buf
}

func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	return append(buf, data...)
}

// bufReader reads varints and bytes sequentially from a payload.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, err
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *bufReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarint()
	if err != nil {
		return nil, err
	}
	end := b.pos + int(length)
	if end > len(b.data) || end < b.pos {
		return nil, io.ErrUnexpectedEOF
	}
	val := b.data[b.pos:end]
	b.pos = end
	return val, nil
}

// readParams reads [count] key/value parameters. Odd keys carry bytes, even
// keys a varint.
func (b *bufReader) readParams(fn func(key uint64, val []byte, num uint64)) error {
	count, err := b.readVarint()
	if err != nil {
		return &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < count; i++ {
		key, err := b.readVarint()
		if err != nil {
			return &ParseError{Field: "param_key", Err: err}
		}
		if key%2 == 1 {
			val, err := b.readVarIntBytes()
			if err != nil {
				return &ParseError{Field: "param_value", Err: err}
			}
			fn(key, val, 0)
			continue
		}
		num, err := b.readVarint()
		if err != nil {
			return &ParseError{Field: "param_value", Err: err}
		}
		fn(key, nil, num)
	}
	return nil
}
