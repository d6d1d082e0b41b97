package device

import (
	"errors"
	"math/rand"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"

	"meetcall/internal/domain"
)

// ErrNoPreview is returned by tracks whose source cannot feed a self-view.
var ErrNoPreview = errors.New("track has no preview source")

const previewMTU = 1200

// rtpSource is the part of a mediadevices track a preview reads from.
type rtpSource interface {
	NewRTPReader(codecName string, ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error)
}

func previewFrom(src rtpSource, mime string) func() (domain.RemoteStream, error) {
	return func() (domain.RemoteStream, error) {
		r, err := src.NewRTPReader(mime, rand.Uint32(), previewMTU)
		if err != nil {
			return nil, err
		}
		return &previewStream{mime: mime, reader: r}, nil
	}
}

// previewStream adapts a batched RTP reader to a single-packet stream.
// ReadRTP is called from one goroutine only.
type previewStream struct {
	mime   string
	reader mediadevices.RTPReadCloser
	queue  []*rtp.Packet
}

func (s *previewStream) ParticipantID() domain.ParticipantID { return "local" }
func (s *previewStream) Kind() domain.Kind                   { return domain.KindVideo }
func (s *previewStream) MimeType() string                    { return s.mime }
func (s *previewStream) Close() error                        { return s.reader.Close() }

func (s *previewStream) ReadRTP() (*rtp.Packet, error) {
	for len(s.queue) == 0 {
		pkts, release, err := s.reader.Read()
		if err != nil {
			return nil, err
		}
		// packets are only valid until release
		for _, p := range pkts {
			s.queue = append(s.queue, p.Clone())
		}
		release()
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, nil
}
