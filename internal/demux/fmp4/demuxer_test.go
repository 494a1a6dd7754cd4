package fmp4

import (
	"bytes"
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/moqplay/internal/demux"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/media"
)

const testTimescale = 12800

func buildInit(t *testing.T) []byte {
	t.Helper()

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(testTimescale, "video", "und")
	trak := init.Moov.Trak

	avcC := &mp4.AvcCBox{DecConfRec: avc.DecConfRec{
		AVCProfileIndication: 0x42,
		ProfileCompatibility: 0xc0,
		AVCLevelIndication:   0x1e,
		SPSnalus:             [][]byte{{0x67, 0x42, 0xc0, 0x1e}},
		PPSnalus:             [][]byte{{0x68, 0xce, 0x3c, 0x80}},
		NoTrailingInfo:       true,
	}}
	trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateVisualSampleEntryBox("avc1", 640, 360, avcC))

	var buf bytes.Buffer
	require.NoError(t, init.Encode(&buf))
	return buf.Bytes()
}

func buildFragment(t *testing.T, seq uint32, dts uint64, sync bool, data []byte) []byte {
	t.Helper()

	frag, err := mp4.CreateFragment(seq, 1)
	require.NoError(t, err)

	flags := mp4.NonSyncSampleFlags
	if sync {
		flags = mp4.SyncSampleFlags
	}
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   512,
			Size:  uint32(len(data)),
		},
		DecodeTime: dts,
		Data:       data,
	})

	var buf bytes.Buffer
	require.NoError(t, frag.Encode(&buf))
	return buf.Bytes()
}

func TestConfigure(t *testing.T) {
	d := New(nil)
	track, err := d.Configure(buildInit(t))
	require.NoError(t, err)

	assert.Equal(t, "avc1.42c01e", track.Codec)
	assert.Equal(t, 640, track.Width)
	assert.Equal(t, 360, track.Height)
	assert.Equal(t, uint32(testTimescale), track.Timescale)
	assert.Equal(t, uint32(1), track.ID)

	cfg := d.DecoderConfig()
	assert.Equal(t, track.Codec, cfg.Codec)
	assert.NotEmpty(t, cfg.Description)
	assert.Equal(t, byte(1), cfg.Description[0], "avcC configurationVersion")
}

func TestConfigureRejectsGarbage(t *testing.T) {
	_, err := New(nil).Configure([]byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestAppendSample(t *testing.T) {
	d := New(nil)
	_, err := d.Configure(buildInit(t))
	require.NoError(t, err)

	var got []*media.ParsedSample
	d.SetSampleHandler(func(s *media.ParsedSample) error {
		got = append(got, s)
		return nil
	})

	require.NoError(t, d.AppendSample(buildFragment(t, 1, 0, true, []byte{0, 0, 0, 1, 0x65})))
	require.NoError(t, d.AppendSample(buildFragment(t, 2, 512, false, []byte{0, 0, 0, 1, 0x41})))

	require.Len(t, got, 2)
	assert.True(t, got[0].IsSync)
	assert.False(t, got[1].IsSync)
	assert.Equal(t, uint32(512), got[0].Duration)
	assert.Equal(t, uint32(testTimescale), got[0].Timescale)
	assert.Equal(t, int64(512), got[1].DTS)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65}, got[0].Payload)
	assert.Equal(t, "avc1.42c01e", got[1].Config.Codec)
}

func TestAppendSampleBeforeConfigure(t *testing.T) {
	err := New(nil).AppendSample([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalidState, ""))
}

func TestAppendSampleMalformed(t *testing.T) {
	d := New(nil)
	_, err := d.Configure(buildInit(t))
	require.NoError(t, err)
	d.SetSampleHandler(func(*media.ParsedSample) error { return nil })

	err = d.AppendSample([]byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'})
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)
}

func TestWithCorrelationQueue(t *testing.T) {
	d := New(nil)
	_, err := d.Configure(buildInit(t))
	require.NoError(t, err)

	var got []*media.ParsedSample
	q := demux.NewCorrelationQueue(d, func(s *media.ParsedSample) error {
		got = append(got, s)
		return nil
	})

	in := []*media.RawFrame{
		{FrameInfo: media.FrameInfo{Class: media.FrameClassI, DTS: 0, PTS: 1024}, Payload: buildFragment(t, 1, 0, true, []byte{1})},
		{FrameInfo: media.FrameInfo{Class: media.FrameClassP, DTS: 512, PTS: 2048}, Payload: buildFragment(t, 2, 512, false, []byte{2})},
	}
	for _, f := range in {
		require.NoError(t, q.Submit(f))
	}

	require.Len(t, got, 2)
	assert.Equal(t, in[0].FrameInfo, got[0].FrameInfo)
	assert.Equal(t, in[1].FrameInfo, got[1].FrameInfo)
	assert.Zero(t, q.Pending())
}
