package surface

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// FileAudioPlayer records each participant's Opus audio as Ogg. Other
// codecs are read and discarded so the transport does not back up.
type FileAudioPlayer struct {
	dir string

	mu    sync.Mutex
	sinks map[domain.ParticipantID]*sink
}

func NewFileAudioPlayer(dir string) (*FileAudioPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileAudioPlayer{dir: dir, sinks: make(map[domain.ParticipantID]*sink)}, nil
}

// Play starts playback of stream for id, stopping any previous playback.
func (p *FileAudioPlayer) Play(id domain.ParticipantID, stream domain.RemoteStream) error {
	name := "remote-" + string(id)
	w, err := openAudioWriter(p.dir, name, stream.MimeType())
	if err != nil {
		return fmt.Errorf("open audio output for %s: %w", id, err)
	}

	s := newSink(name)
	p.mu.Lock()
	prev := p.sinks[id]
	p.sinks[id] = s
	p.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	s.start(stream, w)
	log.Info().Str("module", "surface").Str("participant", string(id)).Str("codec", stream.MimeType()).Msg("audio playing")
	return nil
}

func (p *FileAudioPlayer) Stop(id domain.ParticipantID) {
	p.mu.Lock()
	s := p.sinks[id]
	delete(p.sinks, id)
	p.mu.Unlock()
	if s != nil {
		s.stop()
		log.Info().Str("module", "surface").Str("participant", string(id)).Msg("audio stopped")
	}
}

// Playing reports whether id has active playback.
func (p *FileAudioPlayer) Playing(id domain.ParticipantID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sinks[id]
	return ok
}
