package surface

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// sink pumps one remote stream into a writer until stopped or the stream ends.
// A nil writer drains the stream.
type sink struct {
	name string

	mu      sync.Mutex
	stream  domain.RemoteStream
	w       rtpWriter
	stopped bool
}

func newSink(name string) *sink {
	return &sink{name: name}
}

// start begins pumping stream into w. A sink renders at most one stream.
func (s *sink) start(stream domain.RemoteStream, w rtpWriter) bool {
	s.mu.Lock()
	if s.stopped || s.stream != nil {
		s.mu.Unlock()
		if w != nil {
			_ = w.Close()
		}
		return false
	}
	s.stream = stream
	s.w = w
	s.mu.Unlock()

	go s.pump(stream)
	return true
}

func (s *sink) pump(stream domain.RemoteStream) {
	var written int
	for {
		pkt, err := stream.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "surface").Str("sink", s.name).Msg("stream ended")
			}
			s.stop()
			log.Info().Str("module", "surface").Str("sink", s.name).Int("packets", written).Msg("render finished")
			return
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if s.w != nil {
			if err := s.w.WriteRTP(pkt); err != nil {
				log.Warn().Err(err).Str("module", "surface").Str("sink", s.name).Msg("write")
			}
		}
		s.mu.Unlock()
		written++
	}
}

// stop closes the writer and the stream. It is safe to call repeatedly.
func (s *sink) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	w, stream := s.w, s.stream
	s.w = nil
	s.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Str("module", "surface").Str("sink", s.name).Msg("close writer")
		}
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// openVideoWriter picks a container for the stream's codec.
func openVideoWriter(dir, name, mime string) (rtpWriter, error) {
	base := filepath.Join(dir, name)
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		w, err := ivfwriter.New(base + ".ivf")
		if err != nil {
			return nil, err
		}
		return w, nil
	case strings.EqualFold(mime, webrtc.MimeTypeH264):
		f, err := createFile(base + ".h264")
		if err != nil {
			return nil, err
		}
		return newAnnexBWriter(f), nil
	default:
		return nil, nil
	}
}

func openAudioWriter(dir, name, mime string) (rtpWriter, error) {
	if !strings.EqualFold(mime, webrtc.MimeTypeOpus) {
		return nil, nil
	}
	w, err := oggwriter.New(filepath.Join(dir, name+".ogg"), 48000, 2)
	if err != nil {
		return nil, err
	}
	return w, nil
}
