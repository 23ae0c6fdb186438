// Package lifecycle owns the Unconfirmed -> Confirmed state machine of block
// candidates and the purge-and-replace policy of detection runs.
package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/events"
	"github.com/navid-fn/obradar/internal/logging"
	"github.com/navid-fn/obradar/internal/models"
	"github.com/navid-fn/obradar/internal/storage"
)

// Manager applies lifecycle changes to the candidate store and announces
// them once committed. Publishing failures never undo a committed change.
type Manager struct {
	store     storage.CandidateStore
	publisher events.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewManager(store storage.CandidateStore, publisher events.Publisher, logger *logrus.Logger) *Manager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Manager{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// Replace drops every unconfirmed candidate of p and stores batch as the new
// unconfirmed set. Confirmed candidates of p are kept. Both steps share one
// transaction, so a concurrent confirmation lands either before or after.
func (m *Manager) Replace(ctx context.Context, p models.Partition, batch []models.BlockCandidate) (storage.ReplaceResult, error) {
	res, err := m.store.ReplaceUnconfirmed(ctx, p, batch)
	if err != nil {
		return res, err
	}

	m.logger.WithFields(logging.PartitionFields(p)).WithFields(logrus.Fields{
		"purged":   res.Purged,
		"inserted": len(res.Inserted),
	}).Info("Replaced unconfirmed candidates")

	m.publish(ctx, events.Event{
		Kind:       events.CandidatesReplaced,
		Partition:  p.String(),
		Candidates: res.Inserted,
		Purged:     res.Purged,
	})
	return res, nil
}

// SetConfirmation moves a candidate to confirmed. Asking for the value it
// already has succeeds without a write. Unconfirming a confirmed candidate
// returns errs.ErrIrreversibleConfirmation; an unknown id an *errs.NotFoundError.
func (m *Manager) SetConfirmation(ctx context.Context, id string, confirmed bool) (models.BlockCandidate, error) {
	if !confirmed {
		c, err := m.store.Get(ctx, id)
		if err != nil {
			return models.BlockCandidate{}, err
		}
		if c.Confirmed {
			return c, errs.ErrIrreversibleConfirmation
		}
		return c, nil
	}

	c, changed, err := m.store.Confirm(ctx, id)
	if err != nil {
		return models.BlockCandidate{}, err
	}
	if changed {
		m.logger.WithFields(logging.PartitionFields(c.Partition())).
			WithField("id", id).Info("Candidate confirmed")
		m.publish(ctx, events.Event{
			Kind:       events.CandidateConfirmed,
			Partition:  c.Partition().String(),
			Candidates: []models.BlockCandidate{c},
		})
	}
	return c, nil
}

// CleanupUnconfirmed deletes every unconfirmed candidate of every partition.
func (m *Manager) CleanupUnconfirmed(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteUnconfirmed(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Infof("Cleaned up %d unconfirmed candidates", n)
	m.publish(ctx, events.Event{Kind: events.UnconfirmedCleaned, Deleted: n})
	return n, nil
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	e.Time = m.now().UTC()
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.WithField("kind", e.Kind).Warnf("Failed to publish event: %v", err)
	}
}
