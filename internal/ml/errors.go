package ml

import "errors"

var (
	// ErrNotTrained is returned by queries against a model that was never
	// trained or restored.
	ErrNotTrained = errors.New("model not trained")

	// ErrInvalidWeights is returned when combiner weights do not sum to 1.
	ErrInvalidWeights = errors.New("invalid hybrid weights")

	// ErrNoModel is returned by the registry before the first swap.
	ErrNoModel = errors.New("no model loaded")

	// ErrVectorMismatch is returned when content vectors are not aligned
	// with the catalog.
	ErrVectorMismatch = errors.New("content vectors not aligned with catalog")
)
