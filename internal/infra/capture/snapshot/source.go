package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gatescan/internal/domain/capture"
)

const grabTimeout = 10 * time.Second

// Source shells out to a snapshot command (fswebcam, ffmpeg, libcamera-still)
// to grab one frame per call. The command's argv is configured; the token
// {{output}} is replaced with a temp file path the command must write to.
type Source struct {
	argv []string

	mu      sync.Mutex
	running bool
}

func New(argv []string) *Source {
	return &Source{argv: argv}
}

func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.argv) == 0 {
		return fmt.Errorf("%w: no snapshot command configured", capture.ErrUnavailable)
	}
	if _, err := exec.LookPath(s.argv[0]); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	s.running = true
	return nil
}

func (s *Source) Grab(ctx context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, capture.ErrUnavailable
	}
	argv := s.argv
	s.mu.Unlock()

	tmp, err := os.CreateTemp("", "gatescan-frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	out := tmp.Name()
	tmp.Close()
	defer os.Remove(out)

	args := make([]string, 0, len(argv)-1)
	for _, a := range argv[1:] {
		args = append(args, strings.ReplaceAll(a, "{{output}}", out))
	}

	cctx, cancel := context.WithTimeout(ctx, grabTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", capture.ErrUnavailable, argv[0], err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, capture.ErrNoFrame
	}

	return &capture.Frame{
		Data:        data,
		ContentType: contentTypeFor(out),
		CapturedAt:  time.Now(),
		Ref:         argv[0],
	}, nil
}

// Stop is idempotent; the command runs per grab so there is nothing to tear
// down beyond the running flag.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
