package media

import (
	"context"
	"os"
	"time"

	pkgerrors "peerchat/pkg/errors"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

const opusSampleRate = 48000

// FileOpener plays capture devices back from disk: an OGG/Opus file for the
// microphone and an IVF file for the camera. A missing file behaves like a
// missing device, which exercises the audio-fallback path end to end.
type FileOpener struct {
	AudioPath string
	VideoPath string
}

func (o FileOpener) OpenMicrophone(_ context.Context) (SampleSource, error) {
	file, err := os.Open(o.AudioPath)
	if err != nil {
		return nil, pkgerrors.NewMediaError(pkgerrors.CodeDeviceNotFound, err)
	}
	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, pkgerrors.NewMediaError(pkgerrors.CodeDeviceNotReadable, err)
	}
	return &oggSource{file: file, reader: reader}, nil
}

func (o FileOpener) OpenCamera(_ context.Context) (SampleSource, error) {
	file, err := os.Open(o.VideoPath)
	if err != nil {
		return nil, pkgerrors.NewMediaError(pkgerrors.CodeDeviceNotFound, err)
	}
	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, pkgerrors.NewMediaError(pkgerrors.CodeDeviceNotReadable, err)
	}
	frameDuration := time.Millisecond *
		time.Duration((float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator))*1000)
	return &ivfSource{file: file, reader: reader, frameDuration: frameDuration}, nil
}

// oggSource paces Opus pages by their granule positions.
type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func (s *oggSource) ReadSample() (pionmedia.Sample, error) {
	pageData, pageHeader, err := s.reader.ParseNextPage()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	sampleCount := pageHeader.GranulePosition - s.lastGranule
	s.lastGranule = pageHeader.GranulePosition
	duration := time.Duration(sampleCount) * time.Second / opusSampleRate

	time.Sleep(duration)
	return pionmedia.Sample{Data: pageData, Duration: duration}, nil
}

func (s *oggSource) Close() error {
	return s.file.Close()
}

// ivfSource paces frames by the file's timebase.
type ivfSource struct {
	file          *os.File
	reader        *ivfreader.IVFReader
	frameDuration time.Duration
}

func (s *ivfSource) ReadSample() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	time.Sleep(s.frameDuration)
	return pionmedia.Sample{Data: frame, Duration: s.frameDuration}, nil
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}
