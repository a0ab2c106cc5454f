package sink

import (
	"context"
	"time"

	lodeapi "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/zipline/lode"
)

// StoreStrategy streams the archive into a Lode store object.
type StoreStrategy struct {
	Factory lodeapi.StoreFactory
	// Backend labels the store in locations and errors ("fs" or "s3").
	Backend string
	RunID   string
	// Now returns the time used for the day partition. Defaults to time.Now.
	Now func() time.Time
}

// Name implements Strategy.
func (s *StoreStrategy) Name() string { return "store" }

// Acquire implements Strategy. The upload runs until the sink is closed or
// aborted and is bound to ctx.
func (s *StoreStrategy) Acquire(ctx context.Context, suggestedName string) (Result, error) {
	if s.Factory == nil {
		return UnavailableResult("no storage configured"), nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	path, err := lode.ArchivePath(lode.DeriveDay(now()), s.RunID, suggestedName)
	if err != nil {
		return Result{}, err
	}

	store, err := lode.OpenStore(s.Factory, s.Backend)
	if err != nil {
		return Result{}, err
	}

	return AcquiredResult(&Acquisition{
		Name:     suggestedName,
		Location: s.Backend + ":" + path,
		Sink:     lode.NewObjectWriter(ctx, store, path),
	}), nil
}

// Verify the store object writer implements Sink.
var _ Sink = (*lode.ObjectWriter)(nil)
