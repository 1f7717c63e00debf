package state

import (
	"context"
	"fmt"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

// Store persists state under a key. Loading a key that was never saved
// returns an empty State.
type Store interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, key string, s State) error
}

// Key identifies the state of one provider loading into one table.
func Key(provider string, table warehouse.TableRef) string {
	return provider + "/" + table.String()
}

// CommitError is returned when the state of a run could not be saved. Loads
// of that run will be repeated by the next run.
type CommitError struct {
	Key string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("could not commit state %q: %v", e.Key, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Commit saves the tracker's state if it changed.
func Commit(ctx context.Context, store Store, key string, t *Tracker) error {
	if !t.Dirty() {
		return nil
	}
	if err := store.Save(ctx, key, t.Snapshot()); err != nil {
		return &CommitError{Key: key, Err: err}
	}
	return nil
}
