package spooldir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gatescan/internal/domain/capture"
)

// Source reads frames from a spool directory that an external grabber (a
// webcam daemon, a barcode camera, an rsync job) keeps dropping images into.
// Grab returns the newest image that has not been consumed yet; older files
// are skipped, never replayed.
type Source struct {
	dir string

	mu       sync.Mutex
	running  bool
	lastSeen time.Time
	lastName string
}

func New(dir string) *Source {
	return &Source{dir: dir}
}

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", capture.ErrUnavailable, s.dir)
	}

	// Frames already present at startup are stale; only consume what arrives
	// after the session begins.
	s.lastSeen = time.Now()
	s.lastName = ""
	s.running = true
	return nil
}

func (s *Source) Grab(ctx context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, capture.ErrUnavailable
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}

	type cand struct {
		name    string
		modTime time.Time
		ctype   string
	}
	var cands []cand
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ctype, ok := imageExts[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(s.lastSeen) {
			continue
		}
		if info.ModTime().Equal(s.lastSeen) && e.Name() == s.lastName {
			continue
		}
		cands = append(cands, cand{name: e.Name(), modTime: info.ModTime(), ctype: ctype})
	}
	if len(cands) == 0 {
		return nil, capture.ErrNoFrame
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].modTime.Equal(cands[j].modTime) {
			return cands[i].name < cands[j].name
		}
		return cands[i].modTime.After(cands[j].modTime)
	})
	newest := cands[0]

	path := filepath.Join(s.dir, newest.name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}

	s.lastSeen = newest.modTime
	s.lastName = newest.name

	return &capture.Frame{
		Data:        data,
		ContentType: newest.ctype,
		CapturedAt:  newest.modTime,
		Ref:         path,
	}, nil
}

// Stop is idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}
