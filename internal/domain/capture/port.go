package capture

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means the capture device could not be acquired (missing
// device, denied permission, absent spool directory). The workflow reports it
// and stays idle.
var ErrUnavailable = errors.New("capture source unavailable")

// ErrNoFrame means the source is healthy but has nothing new to offer. Ticks
// treat it as an extraction miss.
var ErrNoFrame = errors.New("no frame available")

// Frame is one captured image.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
	Ref         string // origin hint: file path, command, ...
}

// Source port for the external camera pipeline. A source is a singleton
// resource: Start must be preceded by Stop of any previous session, and Stop
// must be safe to call more than once.
type Source interface {
	Start(ctx context.Context) error
	Grab(ctx context.Context) (*Frame, error)
	Stop() error
}
