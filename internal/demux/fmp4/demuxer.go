// Package fmp4 implements demux.Demuxer for fragmented MP4 video carried one
// moof+mdat fragment per frame.
package fmp4

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/moqplay/internal/demux"
	"github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/media"
)

// Demuxer parses an init segment once and then one fragment per AppendSample
// call. Samples are delivered synchronously from AppendSample.
type Demuxer struct {
	mu      sync.Mutex
	track   media.TrackInfo
	config  media.DecoderConfig
	trex    *mp4.TrexBox
	offset  uint64 // byte position of the next fragment in the logical file
	ready   bool
	handler demux.SampleHandler
	logger  logger.Logger
}

var _ demux.Demuxer = (*Demuxer)(nil)

// New creates an unconfigured demuxer.
func New(log logger.Logger) *Demuxer {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Demuxer{logger: log.WithField("component", "fmp4_demuxer")}
}

// Configure implements demux.Demuxer. Only AVC sample entries are supported.
func (d *Demuxer) Configure(init []byte) (media.TrackInfo, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(init))
	if err != nil {
		return media.TrackInfo{}, errors.NewMalformedFrameError(fmt.Sprintf("init segment: %v", err))
	}
	if f.Init == nil || f.Init.Moov == nil {
		return media.TrackInfo{}, errors.NewCodecConfigMissingError("init segment has no moov box")
	}

	trak := videoTrak(f.Init.Moov)
	if trak == nil {
		return media.TrackInfo{}, errors.NewCodecConfigMissingError("init segment has no video track")
	}

	stsd := trak.Mdia.Minf.Stbl.Stsd
	if stsd == nil || stsd.AvcX == nil || stsd.AvcX.AvcC == nil {
		return media.TrackInfo{}, errors.NewCodecConfigMissingError("video track has no avcC configuration")
	}
	avcx := stsd.AvcX
	rec := avcx.AvcC.DecConfRec

	var desc bytes.Buffer
	if err := rec.Encode(&desc); err != nil {
		return media.TrackInfo{}, errors.WrapInternalError(err, "failed to encode avcC")
	}

	track := media.TrackInfo{
		ID: trak.Tkhd.TrackID,
		Codec: fmt.Sprintf("%s.%02x%02x%02x", avcx.Type(),
			rec.AVCProfileIndication, rec.ProfileCompatibility, rec.AVCLevelIndication),
		Width:     int(avcx.Width),
		Height:    int(avcx.Height),
		Timescale: trak.Mdia.Mdhd.Timescale,
	}

	d.mu.Lock()
	d.track = track
	d.config = media.DecoderConfig{
		Codec:       track.Codec,
		CodedWidth:  track.Width,
		CodedHeight: track.Height,
		Description: desc.Bytes(),
	}
	d.trex = findTrex(f.Init.Moov, track.ID)
	d.offset = uint64(len(init))
	d.ready = true
	d.mu.Unlock()

	d.logger.WithFields(map[string]interface{}{
		"codec":     track.Codec,
		"width":     track.Width,
		"height":    track.Height,
		"timescale": track.Timescale,
	}).Info("Configured video track")

	return track, nil
}

// DecoderConfig returns the configuration found by Configure.
func (d *Demuxer) DecoderConfig() media.DecoderConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// SetSampleHandler implements demux.Demuxer.
func (d *Demuxer) SetSampleHandler(h demux.SampleHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// AppendSample implements demux.Demuxer. data must hold exactly one fragment
// with exactly one sample.
func (d *Demuxer) AppendSample(data []byte) error {
	d.mu.Lock()
	if !d.ready {
		d.mu.Unlock()
		return errors.NewInvalidStateError("demuxer is not configured")
	}
	start := d.offset
	d.offset += uint64(len(data))
	trex, config, timescale, handler := d.trex, d.config, d.track.Timescale, d.handler
	d.mu.Unlock()

	moof, mdat, err := decodeFragment(start, data)
	if err != nil {
		return err
	}

	frag := mp4.NewFragment()
	frag.AddChild(moof)
	frag.AddChild(mdat)
	samples, err := frag.GetFullSamples(trex)
	if err != nil {
		return errors.NewMalformedFrameError(fmt.Sprintf("fragment samples: %v", err))
	}
	if len(samples) != 1 {
		return errors.NewMalformedFrameError(fmt.Sprintf("fragment carries %d samples, want 1", len(samples)))
	}
	s := samples[0]

	if handler == nil {
		return errors.NewInvalidStateError("no sample handler installed")
	}
	return handler(&media.ParsedSample{
		FrameInfo: media.FrameInfo{
			PTS: int64(s.PresentationTime()),
			DTS: int64(s.DecodeTime),
		},
		Config:    config,
		IsSync:    s.IsSync(),
		Timescale: timescale,
		Duration:  s.Dur,
		Payload:   s.Data,
	})
}

func decodeFragment(start uint64, data []byte) (*mp4.MoofBox, *mp4.MdatBox, error) {
	var (
		moof *mp4.MoofBox
		mdat *mp4.MdatBox
	)

	r := bytes.NewReader(data)
	pos := start
	for {
		box, err := mp4.DecodeBox(pos, r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.NewMalformedFrameError(fmt.Sprintf("fragment box at %d: %v", pos, err))
		}
		pos += box.Size()

		switch b := box.(type) {
		case *mp4.MoofBox:
			moof = b
		case *mp4.MdatBox:
			mdat = b
		}
	}

	if moof == nil || mdat == nil {
		return nil, nil, errors.NewMalformedFrameError("fragment is missing moof or mdat")
	}
	return moof, mdat, nil
}

func videoTrak(moov *mp4.MoovBox) *mp4.TrakBox {
	for _, trak := range moov.Traks {
		if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
			return trak
		}
	}
	return nil
}

func findTrex(moov *mp4.MoovBox, trackID uint32) *mp4.TrexBox {
	if moov.Mvex == nil {
		return nil
	}
	for _, trex := range moov.Mvex.Trexs {
		if trex.TrackID == trackID {
			return trex
		}
	}
	return nil
}
