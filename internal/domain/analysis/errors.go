package analysis

import "errors"

// ErrSessionUnavailable indicates the model session could not be loaded at
// all. This is the one fatal condition: no task can proceed without a model,
// so the run fails fast before any task executes.
var ErrSessionUnavailable = errors.New("model session unavailable")

// ErrContextOverflow indicates the prompt did not fit the model's context
// window even after truncation.
var ErrContextOverflow = errors.New("prompt exceeds model context window")
