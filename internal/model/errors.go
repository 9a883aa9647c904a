package model

import "github.com/rotisserie/eris"

var (
	// ErrNotFound is returned for an unknown unit identifier.
	ErrNotFound = eris.New("not found")

	// ErrDataUnavailable is returned when a backing dataset cannot be read
	// or fails validation. Fatal at startup.
	ErrDataUnavailable = eris.New("data unavailable")

	// ErrExternalUnavailable is returned when an external tier fails after
	// exhausting retries. Recorded per entity, never fatal to a batch.
	ErrExternalUnavailable = eris.New("external service unavailable")
)
