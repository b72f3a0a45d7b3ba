package port

import "context"

type LockManager interface {
	// Acquire takes the mutual-exclusion lease for one cell key, waiting at
	// most the manager's bounded window. Returns the release func on success,
	// domain.ErrBusy when the deadline passes first.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
