// Package events carries candidate lifecycle changes to Kafka and to
// websocket subscribers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/navid-fn/obradar/internal/models"
)

const DefaultTopic = "orderblock_candidates"

type Kind string

const (
	// CandidatesReplaced follows a detection run of one partition.
	CandidatesReplaced Kind = "candidates.replaced"

	// CandidateConfirmed follows an operator confirmation.
	CandidateConfirmed Kind = "candidate.confirmed"

	// UnconfirmedCleaned follows a system-wide cleanup.
	UnconfirmedCleaned Kind = "candidates.cleaned"
)

// Event is one committed lifecycle change.
type Event struct {
	Kind Kind `json:"kind"`

	// Partition is "SYMBOL/TF", empty for system-wide events.
	Partition  string                  `json:"partition,omitempty"`
	Candidates []models.BlockCandidate `json:"candidates,omitempty"`
	Purged     int64                   `json:"purged,omitempty"`
	Deleted    int64                   `json:"deleted,omitempty"`
	Time       time.Time               `json:"time"`
}

// Publisher delivers events after the change they describe is committed.
// Delivery is best effort; callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() {}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
