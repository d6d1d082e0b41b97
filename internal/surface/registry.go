package surface

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// FileRegistry renders each remote video surface into a file under dir.
type FileRegistry struct {
	dir string

	mu       sync.Mutex
	surfaces map[domain.SurfaceID]*fileSurface
}

func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create surface dir: %w", err)
	}
	return &FileRegistry{
		dir:      dir,
		surfaces: make(map[domain.SurfaceID]*fileSurface),
	}, nil
}

// Attach creates the surface id. An existing surface with the same id is
// detached first.
func (r *FileRegistry) Attach(id domain.SurfaceID) (domain.Surface, error) {
	s := &fileSurface{id: id, dir: r.dir, sink: newSink(string(id))}

	r.mu.Lock()
	prev := r.surfaces[id]
	r.surfaces[id] = s
	r.mu.Unlock()

	if prev != nil {
		log.Warn().Str("module", "surface").Str("surface", string(id)).Msg("replacing attached surface")
		prev.sink.stop()
	}
	log.Info().Str("module", "surface").Str("surface", string(id)).Msg("attached")
	return s, nil
}

func (r *FileRegistry) Detach(s domain.Surface) {
	fs, ok := s.(*fileSurface)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.surfaces[fs.id] == fs {
		delete(r.surfaces, fs.id)
	}
	r.mu.Unlock()

	fs.sink.stop()
	log.Info().Str("module", "surface").Str("surface", string(fs.id)).Msg("detached")
}

// Attached lists the ids of live surfaces in order.
func (r *FileRegistry) Attached() []domain.SurfaceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]domain.SurfaceID, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type fileSurface struct {
	id   domain.SurfaceID
	dir  string
	sink *sink
}

func (s *fileSurface) ID() domain.SurfaceID { return s.id }

// Render writes stream into the surface's file until the surface is detached.
func (s *fileSurface) Render(stream domain.RemoteStream) {
	w, err := openVideoWriter(s.dir, string(s.id), stream.MimeType())
	if err != nil {
		log.Error().Err(err).Str("module", "surface").Str("surface", string(s.id)).Msg("open output")
		_ = stream.Close()
		return
	}
	if w == nil {
		log.Warn().Str("module", "surface").Str("surface", string(s.id)).Str("codec", stream.MimeType()).Msg("unsupported codec, draining")
	}
	if !s.sink.start(stream, w) {
		_ = stream.Close()
	}
}

func createFile(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}
