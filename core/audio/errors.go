package audio

import "errors"

// ErrUnsupportedFormat is returned when the container/codec is not in the
// supported set.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrCorruptFile is returned when the artifact cannot be decoded.
var ErrCorruptFile = errors.New("audio file cannot be decoded")

// ErrTooShort is returned when the source is below the minimum duration for a
// preview. Reported, not fatal: the pipeline continues without a preview.
var ErrTooShort = errors.New("source too short for preview")
