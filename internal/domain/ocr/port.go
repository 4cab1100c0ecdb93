package ocr

import (
	"context"

	"gatescan/internal/domain/capture"
)

// Recognizer port: turns a frame into raw recognized text. The text is noisy;
// the extractor decides whether a ticket code is in it.
type Recognizer interface {
	Recognize(ctx context.Context, frame *capture.Frame) (string, error)
}
