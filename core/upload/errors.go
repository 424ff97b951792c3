package upload

import "errors"

// ErrValidation is returned when declared upload parameters are malformed.
var ErrValidation = errors.New("invalid upload parameters")

// ErrConflict is returned when an active session already exists for the same
// (album, filename) pair.
var ErrConflict = errors.New("active upload session already exists")

// ErrQuotaExceeded is returned when the declared size exceeds the configured maximum.
var ErrQuotaExceeded = errors.New("declared file size exceeds quota")

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("upload session not found")

// ErrExpired is returned when the session's inactivity timeout has elapsed.
var ErrExpired = errors.New("upload session expired")

// ErrOutOfRange is returned for a chunk index outside [0, chunkCount).
var ErrOutOfRange = errors.New("chunk index out of range")

// ErrNotReceiving is returned when chunks arrive after the session left the
// receiving state.
var ErrNotReceiving = errors.New("session is not receiving chunks")

// ErrSizeMismatch is returned when the assembled artifact's byte length does
// not match the declared total size.
var ErrSizeMismatch = errors.New("assembled size does not match declared size")

// ErrChecksumMismatch is returned when the assembled artifact's checksum does
// not match the declared checksum.
var ErrChecksumMismatch = errors.New("assembled checksum does not match declared checksum")

// ErrShuttingDown is returned for opens arriving after shutdown started.
var ErrShuttingDown = errors.New("service is shutting down")
