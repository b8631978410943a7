package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/ai"
	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// reconcilerStore is the persistence surface the reconciler needs.
type reconcilerStore interface {
	ListRunningCampaignIDs(ctx context.Context) ([]uuid.UUID, error)
	ListRepliedWithoutClassification(ctx context.Context, limit int) ([]*campaign.Message, error)
	SetReplyClassification(ctx context.Context, id uuid.UUID, classification string) error
}

// ReconcilerConfig tunes the background reconciliation loop.
type ReconcilerConfig struct {
	// Interval between passes. Default 5m.
	Interval time.Duration
	// ClassifyBatchSize caps replies classified per pass. Default 50.
	ClassifyBatchSize int
}

// Reconciler periodically recomputes campaign counters from message state and
// backfills reply classifications missed at ingestion time, for example while
// the AI collaborator was down. Both passes are idempotent, so overlapping
// with the live tracker is safe.
type Reconciler struct {
	store      reconcilerStore
	aggregator *campaign.Aggregator
	classifier *ai.Classifier
	cfg        ReconcilerConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReconciler creates the reconciliation worker. classifier may be nil, in
// which case the backfill pass is skipped.
func NewReconciler(store reconcilerStore, aggregator *campaign.Aggregator, classifier *ai.Classifier, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ClassifyBatchSize <= 0 {
		cfg.ClassifyBatchSize = 50
	}
	return &Reconciler{
		store:      store,
		aggregator: aggregator,
		classifier: classifier,
		cfg:        cfg,
	}
}

// Start launches the reconciliation loop.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(ctx)
	logger.Info("reconciler started")
}

// Stop shuts the loop down and waits for the current pass.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes one reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	ids, err := r.store.ListRunningCampaignIDs(ctx)
	if err != nil {
		logger.Error("reconcile: list campaigns failed", "error", err.Error())
	} else {
		for _, id := range ids {
			if _, err := r.aggregator.Recompute(ctx, id); err != nil {
				logger.Error("reconcile: recompute failed",
					"campaign_id", id.String(), "error", err.Error())
			}
		}
	}

	if r.classifier == nil {
		return
	}
	msgs, err := r.store.ListRepliedWithoutClassification(ctx, r.cfg.ClassifyBatchSize)
	if err != nil {
		logger.Error("reconcile: list unclassified replies failed", "error", err.Error())
		return
	}
	if len(msgs) == 0 {
		return
	}

	result := r.classifier.ClassifyBatch(ctx, msgs, r.store.SetReplyClassification)
	logger.Info("reply classification backfill",
		"classified", result.Classified, "skipped", result.Skipped)
}
