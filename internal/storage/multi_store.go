package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/ml"
)

// MultiStore fans saves out to every store and loads from the first one that
// has a readable snapshot.
type MultiStore struct {
	stores []ml.SnapshotStore
	logger *logrus.Logger
}

// NewMultiStore combines stores in priority order.
func NewMultiStore(logger *logrus.Logger, stores ...ml.SnapshotStore) *MultiStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MultiStore{stores: stores, logger: logger}
}

// Save writes to every store and joins the errors.
func (m *MultiStore) Save(ctx context.Context, snap *ml.Snapshot) error {
	var errs []error
	for i, s := range m.stores {
		if err := s.Save(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("store %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Load returns the first snapshot that loads cleanly.
func (m *MultiStore) Load(ctx context.Context) (*ml.Snapshot, error) {
	var errs []error
	for i, s := range m.stores {
		snap, err := s.Load(ctx)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			m.logger.WithError(err).WithField("store", i).Warn("Snapshot store failed, trying next")
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return nil, errors.Join(errs...)
}
