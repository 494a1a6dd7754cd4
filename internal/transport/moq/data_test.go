package moq

import (
	"bytes"
	"io"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubgroupReader(t *testing.T) {
	buf := AppendSubgroupHeader(nil, 7, 42, 0, 128)
	buf = AppendObject(buf, 0, []byte{0x02, 0x05}, []byte("first"))
	buf = AppendObject(buf, 1, nil, nil)
	buf = AppendObject(buf, 2, nil, []byte("second"))

	sr, err := NewSubgroupReader(bytes.NewReader(buf))
	require.NoError(t, err)

	hdr := sr.Header()
	assert.Equal(t, StreamTypeSubgroupSIDExt, hdr.StreamType)
	assert.Equal(t, uint64(7), hdr.TrackAlias)
	assert.Equal(t, uint64(42), hdr.GroupID)
	assert.Equal(t, byte(128), hdr.Priority)

	obj, err := sr.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), obj.ObjectID)
	assert.Equal(t, uint64(42), obj.GroupID)
	assert.Equal(t, []byte{0x02, 0x05}, obj.Extensions)
	assert.Equal(t, []byte("first"), obj.Payload)

	obj, err = sr.ReadObject()
	require.NoError(t, err)
	assert.Empty(t, obj.Payload)
	assert.Equal(t, ObjectStatusNormal, obj.Status)

	obj, err = sr.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), obj.Payload)

	_, err = sr.ReadObject()
	assert.Equal(t, io.EOF, err)
}

func TestSubgroupReaderWithoutExtensions(t *testing.T) {
	// Type 0x0a: subgroup ID is the first object ID, no extensions.
	var buf []byte
	buf = quicvarint.Append(buf, 0x0a)
	buf = quicvarint.Append(buf, 3)  // alias
	buf = quicvarint.Append(buf, 11) // group
	buf = append(buf, 0)             // priority
	buf = quicvarint.Append(buf, 5)  // object ID
	buf = quicvarint.Append(buf, 3)
	buf = append(buf, "abc"...)

	sr, err := NewSubgroupReader(bytes.NewReader(buf))
	require.NoError(t, err)

	obj, err := sr.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), obj.Payload)
	assert.Nil(t, obj.Extensions)
	assert.Equal(t, uint64(5), sr.Header().SubgroupID)
}

func TestSubgroupReaderErrors(t *testing.T) {
	t.Run("unknown stream type", func(t *testing.T) {
		_, err := NewSubgroupReader(bytes.NewReader(quicvarint.Append(nil, 0x05)))
		assert.ErrorIs(t, err, ErrUnknownStreamType)
	})

	t.Run("truncated payload", func(t *testing.T) {
		buf := AppendSubgroupHeader(nil, 1, 1, 0, 0)
		buf = AppendObject(buf, 0, nil, []byte("payload"))
		sr, err := NewSubgroupReader(bytes.NewReader(buf[:len(buf)-2]))
		require.NoError(t, err)

		_, err = sr.ReadObject()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
