package export

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a global track identity with no associations.
var ErrNotFound = errors.New("no associations found for global track")

// ErrNoExcerpts reports a plan or highlight selection that produced nothing
// renderable.
var ErrNoExcerpts = errors.New("no excerpts available for export")

// RenderError reports a failed ffmpeg invocation, carrying the captured
// stderr tail.
type RenderError struct {
	Stderr string
}

func (e *RenderError) Error() string {
	if e.Stderr == "" {
		return "ffmpeg failed"
	}
	return fmt.Sprintf("ffmpeg failed: %s", e.Stderr)
}
