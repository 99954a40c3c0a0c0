// Package checkpoint persists the continuation key of composite walks so an
// interrupted report continues after the last delivered page.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/pteich/elastic-query-samples/composite"
)

// Checkpoint tracks the progress of one named walk.
type Checkpoint struct {
	Name      string        `json:"name"`
	Index     string        `json:"index"`
	// Template is the fingerprint of the request the key belongs to.
	Template  string        `json:"template"`
	After     composite.Key `json:"after"`
	Pages     int           `json:"pages"`
	Buckets   int           `json:"buckets"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Completed bool          `json:"completed"`
}

// Store loads and saves checkpoints. Load returns nil without error when no
// unfinished checkpoint exists.
type Store interface {
	Load(ctx context.Context, name string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, name string) error
}

// Walk runs w and records the key of every delivered page in store. If the
// store holds an unfinished checkpoint for the walk, it resumes after its key.
// A checkpoint written for another index, other sources or another query is
// rejected with composite.ErrKeyMismatch.
func Walk(ctx context.Context, store Store, w *composite.Walker, fn composite.PageFunc) (composite.Stats, error) {
	name := w.Name()

	cp, err := store.Load(ctx, name)
	if err != nil {
		return composite.Stats{}, err
	}

	req := w.Request()
	template := req.Fingerprint()

	var after composite.Key
	if cp != nil {
		if cp.Index != req.Index || cp.Template != template {
			return composite.Stats{}, fmt.Errorf("%w: checkpoint %s was written for index %s with a different request", composite.ErrKeyMismatch, name, cp.Index)
		}
		after = cp.After
	} else {
		cp = &Checkpoint{
			Name:      name,
			Index:     req.Index,
			Template:  template,
			StartedAt: time.Now().UTC(),
		}
	}

	stats, err := w.Resume(ctx, after, func(ctx context.Context, page composite.Page) error {
		if fn != nil {
			if err := fn(ctx, page); err != nil {
				return err
			}
		}
		cp.Pages++
		cp.Buckets += page.Len()
		if page.After.IsZero() {
			return nil
		}
		cp.After = page.After
		return store.Save(ctx, cp)
	})
	if err != nil {
		return stats, err
	}

	cp.Completed = true
	if err := store.Save(ctx, cp); err != nil {
		return stats, err
	}
	return stats, nil
}
