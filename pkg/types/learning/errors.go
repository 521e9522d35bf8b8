package learning

import "github.com/pkg/errors"

// ErrInsufficientData is returned by predict when too few historical
// patterns exist to ground any recommendation. It is an expected result,
// distinct from a low-confidence guess; callers branch on it with errors.Is.
var ErrInsufficientData = errors.New("insufficient data for prediction")

// ErrPoolUnavailable signals that the shared cross-project pool could not
// be reached. The engine degrades to local-only prediction when it sees it.
var ErrPoolUnavailable = errors.New("shared pattern pool unavailable")

// ErrInvalidObservation marks a capture rejected because the caller's
// observation is malformed. Nothing is persisted, so transports map it to
// a client error rather than a server failure.
var ErrInvalidObservation = errors.New("invalid observation")
