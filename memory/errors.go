package memory

import (
	"errors"

	"github.com/adaojoaquim/agi-core/provider"
)

var (
	// ErrNotFound is returned by exact lookups on an absent id.
	ErrNotFound = errors.New("memory: entry not found")

	// ErrCapacityExceeded is returned when a configured hard ceiling can't
	// be satisfied even after eviction.
	ErrCapacityExceeded = errors.New("memory: capacity exceeded")

	// ErrInvalidEntry is returned for entries that fail validation.
	ErrInvalidEntry = errors.New("memory: invalid entry")

	// ErrUnknownTier is returned when a tier name doesn't resolve.
	ErrUnknownTier = errors.New("memory: unknown tier")

	// ErrProviderUnavailable matches embedding provider failures. Retrieval
	// returns it next to degraded (recency-ranked) results.
	ErrProviderUnavailable = provider.ErrUnavailable
)
