package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/ai"
	"github.com/ignite/outreach/internal/campaign"
)

type fakeReconcileStore struct {
	running      []uuid.UUID
	unclassified []*campaign.Message
	counts       map[uuid.UUID]map[string]int
	set          map[uuid.UUID]campaign.Counters
	classified   map[uuid.UUID]string
	batchLimit   int
}

func (f *fakeReconcileStore) ListRunningCampaignIDs(context.Context) ([]uuid.UUID, error) {
	return f.running, nil
}

func (f *fakeReconcileStore) ListRepliedWithoutClassification(_ context.Context, limit int) ([]*campaign.Message, error) {
	f.batchLimit = limit
	return f.unclassified, nil
}

func (f *fakeReconcileStore) SetReplyClassification(_ context.Context, id uuid.UUID, classification string) error {
	if f.classified == nil {
		f.classified = map[uuid.UUID]string{}
	}
	f.classified[id] = classification
	return nil
}

func (f *fakeReconcileStore) MessageStatusCounts(_ context.Context, id uuid.UUID) (map[string]int, error) {
	return f.counts[id], nil
}

func (f *fakeReconcileStore) SetCampaignCounters(_ context.Context, id uuid.UUID, c campaign.Counters) error {
	if f.set == nil {
		f.set = map[uuid.UUID]campaign.Counters{}
	}
	f.set[id] = c
	return nil
}

type staticCompleter struct{ resp string }

func (s staticCompleter) Complete(context.Context, ai.CompletionRequest) (string, error) {
	return s.resp, nil
}

func TestRunOnceRecomputesRunningCampaigns(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &fakeReconcileStore{
		running: []uuid.UUID{a, b},
		counts: map[uuid.UUID]map[string]int{
			a: {campaign.MessageSent: 2, campaign.MessageOpened: 1},
			b: {campaign.MessagePending: 5},
		},
	}

	r := NewReconciler(store, campaign.NewAggregator(store), nil, ReconcilerConfig{})
	r.RunOnce(context.Background())

	require.Len(t, store.set, 2)
	assert.Equal(t, campaign.Counters{Sent: 3, Opened: 1}, store.set[a])
	assert.Equal(t, campaign.Counters{}, store.set[b])
}

func TestRunOnceBackfillsClassifications(t *testing.T) {
	msgID := uuid.New()
	store := &fakeReconcileStore{
		unclassified: []*campaign.Message{
			{ID: msgID, ReplyBody: "not interested, thanks"},
		},
	}

	classifier := ai.NewClassifier(staticCompleter{resp: `{"category": "not_interested"}`},
		ai.ClassifierConfig{CallDelay: time.Millisecond})
	r := NewReconciler(store, campaign.NewAggregator(store), classifier,
		ReconcilerConfig{ClassifyBatchSize: 25})
	r.RunOnce(context.Background())

	assert.Equal(t, 25, store.batchLimit)
	assert.Equal(t, campaign.ReplyNotInterested, store.classified[msgID])
}

func TestRunOnceWithoutClassifierSkipsBackfill(t *testing.T) {
	store := &fakeReconcileStore{
		unclassified: []*campaign.Message{{ID: uuid.New(), ReplyBody: "hi"}},
	}

	r := NewReconciler(store, campaign.NewAggregator(store), nil, ReconcilerConfig{})
	r.RunOnce(context.Background())

	assert.Zero(t, store.batchLimit)
	assert.Empty(t, store.classified)
}
