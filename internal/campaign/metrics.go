package campaign

import (
	"context"

	"github.com/google/uuid"
)

// metricsStore is the persistence surface the aggregator needs.
type metricsStore interface {
	MessageStatusCounts(ctx context.Context, campaignID uuid.UUID) (map[string]int, error)
	SetCampaignCounters(ctx context.Context, id uuid.UUID, c Counters) error
}

// Aggregator recomputes campaign counters from message state. It is a
// reconciliation pass that can run concurrently with the engagement tracker's
// incremental updates; re-running it against unchanged messages yields
// unchanged counters.
type Aggregator struct {
	store metricsStore
}

// NewAggregator creates a metrics aggregator.
func NewAggregator(store metricsStore) *Aggregator {
	return &Aggregator{store: store}
}

// Recompute derives and persists the campaign counters. Later statuses imply
// earlier engagement: a clicked or replied message counts as opened, a
// replied message counts as clicked.
func (a *Aggregator) Recompute(ctx context.Context, campaignID uuid.UUID) (Counters, error) {
	byStatus, err := a.store.MessageStatusCounts(ctx, campaignID)
	if err != nil {
		return Counters{}, err
	}

	c := Derive(byStatus)
	if err := a.store.SetCampaignCounters(ctx, campaignID, c); err != nil {
		return Counters{}, err
	}
	return c, nil
}

// Derive computes the aggregate counters from a status histogram.
func Derive(byStatus map[string]int) Counters {
	total := 0
	for _, n := range byStatus {
		total += n
	}
	return Counters{
		Sent:    total - byStatus[MessagePending],
		Opened:  byStatus[MessageOpened] + byStatus[MessageClicked] + byStatus[MessageReplied],
		Clicked: byStatus[MessageClicked] + byStatus[MessageReplied],
		Replied: byStatus[MessageReplied],
		Bounced: byStatus[MessageBounced],
	}
}
