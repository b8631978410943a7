// Package worker contains the background send pipeline: a Redis-backed
// dispatch queue, the SES delivery path, and tracking injection. The
// orchestrator enqueues campaign ids; the dispatcher drains them, gating each
// send on campaign status, the schedule window, sequence-step delays, mailbox
// health, and the daily send limit.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// dispatchQueueKey is the Redis list holding campaign ids awaiting dispatch.
const dispatchQueueKey = "outreach:dispatch:queue"

// dispatcherStore is the persistence surface the dispatcher needs.
// *campaign.Store satisfies it; tests use a fake.
type dispatcherStore interface {
	GetCampaignByID(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error)
	GetMailboxByID(ctx context.Context, id uuid.UUID) (*campaign.Mailbox, error)
	ListPendingMessages(ctx context.Context, campaignID uuid.UUID) ([]*campaign.Message, error)
	ListRunningCampaignIDs(ctx context.Context) ([]uuid.UUID, error)
	CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error)
	MarkMessageSent(ctx context.Context, id uuid.UUID, providerID string, at time.Time) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	IncrementCampaignCounter(ctx context.Context, id uuid.UUID, counter string) error
	MessageStatusCounts(ctx context.Context, campaignID uuid.UUID) (map[string]int, error)
	MarkCampaignCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	DebitCredit(ctx context.Context, orgID uuid.UUID) error
}

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	// SendDelay is the pause between consecutive sends through one mailbox.
	// Default 2s.
	SendDelay time.Duration
	// PollTimeout is the BLPOP block duration. Default 5s.
	PollTimeout time.Duration
	// SweepInterval is how often running campaigns are re-enqueued to pick
	// up messages whose step delay or schedule window has arrived. Default 1m.
	SweepInterval time.Duration
}

// Dispatcher drains the campaign dispatch queue and sends pending messages.
type Dispatcher struct {
	redis    *redis.Client
	store    dispatcherStore
	sender   Sender
	injector *TrackingInjector
	cfg      DispatcherConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates the send dispatcher.
func NewDispatcher(redisClient *redis.Client, store dispatcherStore, sender Sender, injector *TrackingInjector, cfg DispatcherConfig) *Dispatcher {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Dispatcher{
		redis:    redisClient,
		store:    store,
		sender:   sender,
		injector: injector,
		cfg:      cfg,
	}
}

// EnqueueCampaign pushes a campaign id onto the dispatch queue. Satisfies the
// orchestrator's queue dependency.
func (d *Dispatcher) EnqueueCampaign(ctx context.Context, campaignID uuid.UUID) error {
	return d.redis.RPush(ctx, dispatchQueueKey, campaignID.String()).Err()
}

// Start launches the dispatch loop and the sweeper.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(2)
	go d.runLoop(ctx)
	go d.runSweeper(ctx)

	logger.Info("dispatcher started")
	return nil
}

// Stop shuts the dispatcher down and waits for in-flight work.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	logger.Info("dispatcher stopped")
}

func (d *Dispatcher) runLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := d.redis.BLPop(ctx, d.cfg.PollTimeout, dispatchQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dispatch queue poll failed", "error", err.Error())
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		// BLPop returns [key, value].
		campaignID, err := uuid.Parse(result[1])
		if err != nil {
			logger.Warn("discarding malformed dispatch entry", "value", result[1])
			continue
		}

		if err := d.ProcessCampaign(ctx, campaignID); err != nil {
			logger.Error("campaign dispatch failed",
				"campaign_id", campaignID.String(), "error", err.Error())
		}
	}
}

// runSweeper periodically re-enqueues every running campaign so messages
// whose step delay or schedule window has arrived get picked up even if no
// explicit enqueue happens. Also recovers queued work lost to a restart.
func (d *Dispatcher) runSweeper(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := d.store.ListRunningCampaignIDs(ctx)
			if err != nil {
				logger.Error("dispatch sweep failed", "error", err.Error())
				continue
			}
			for _, id := range ids {
				if err := d.EnqueueCampaign(ctx, id); err != nil {
					logger.Error("sweep enqueue failed",
						"campaign_id", id.String(), "error", err.Error())
				}
			}
		}
	}
}

// ProcessCampaign sends as many of the campaign's eligible pending messages
// as the gates allow. A per-campaign distributed lock keeps two instances
// from draining the same campaign; campaign status is re-read between sends
// so Pause takes effect mid-batch.
func (d *Dispatcher) ProcessCampaign(ctx context.Context, campaignID uuid.UUID) error {
	lock := distlock.New(d.redis, "dispatch:campaign:"+campaignID.String(), 5*time.Minute)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("campaign lock: %w", err)
	}
	if !ok {
		// Another instance holds it; the sweeper will bring the campaign back.
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	c, err := d.store.GetCampaignByID(ctx, campaignID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("dispatch for unknown campaign", "campaign_id", campaignID.String())
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != campaign.StatusRunning {
		return nil
	}

	mailbox, err := d.store.GetMailboxByID(ctx, c.MailboxID)
	if err != nil {
		return fmt.Errorf("mailbox lookup: %w", err)
	}
	if mailbox.Status != campaign.MailboxActive {
		logger.Warn("skipping dispatch, mailbox not active",
			"campaign_id", campaignID.String(), "mailbox_id", mailbox.ID.String())
		return nil
	}

	if !c.Schedule.Allows(time.Now()) {
		// The sweeper retries once the window opens.
		return nil
	}

	pending, err := d.store.ListPendingMessages(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return d.maybeComplete(ctx, c)
	}

	stepDelays := map[int]int{}
	for _, step := range c.Sequence {
		stepDelays[step.Step] = step.DelayDays
	}

	sentToday, err := d.store.CountMailboxSentSince(ctx, mailbox.ID, startOfDay(time.Now()))
	if err != nil {
		return fmt.Errorf("daily count: %w", err)
	}

	sent := 0
	for _, msg := range pending {
		if sentToday >= mailbox.DailySendLimit {
			logger.Info("daily send limit reached",
				"mailbox_id", mailbox.ID.String(), "limit", mailbox.DailySendLimit)
			break
		}
		if !stepEligible(c.StartedAt, stepDelays[msg.SequenceStep]) {
			continue
		}
		if !c.Schedule.Allows(time.Now()) {
			break
		}

		if sent > 0 {
			select {
			case <-time.After(d.cfg.SendDelay):
			case <-ctx.Done():
				return ctx.Err()
			}

			// Re-check status so a pause lands between sends, not after the
			// whole batch.
			c, err = d.store.GetCampaignByID(ctx, campaignID)
			if err != nil {
				return err
			}
			if c.Status != campaign.StatusRunning {
				return nil
			}
		}

		if err := d.sendOne(ctx, c, mailbox, msg); err != nil {
			logger.Error("send failed",
				"message_id", msg.ID.String(), "error", err.Error())
			if err := d.store.MarkMessageFailed(ctx, msg.ID, err.Error()); err != nil {
				return err
			}
			continue
		}
		sent++
		sentToday++
	}

	return d.maybeComplete(ctx, c)
}

// sendOne injects tracking, delivers through the sender, and records the
// result. One credit is debited per successful send.
func (d *Dispatcher) sendOne(ctx context.Context, c *campaign.Campaign, mailbox *campaign.Mailbox, msg *campaign.Message) error {
	html := msg.Body
	var unsubURL string
	if d.injector != nil {
		html = d.injector.AppendUnsubscribeFooter(html, msg.ID)
		html = d.injector.Inject(html, msg.ID)
		unsubURL = d.injector.UnsubscribeURL(msg.ID)
	}

	providerID, err := d.sender.Send(ctx, &OutboundEmail{
		FromName:       mailbox.FromName,
		FromEmail:      mailbox.Email,
		To:             msg.RecipientEmail,
		Subject:        msg.Subject,
		HTMLBody:       html,
		UnsubscribeURL: unsubURL,
	})
	if err != nil {
		return err
	}

	if err := d.store.MarkMessageSent(ctx, msg.ID, providerID, time.Now()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := d.store.IncrementCampaignCounter(ctx, c.ID, "sent"); err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	if err := d.store.DebitCredit(ctx, c.OrganizationID); err != nil {
		logger.Error("credit debit failed",
			"org_id", c.OrganizationID.String(), "error", err.Error())
	}
	return nil
}

// maybeComplete finishes a campaign once no message is pending.
func (d *Dispatcher) maybeComplete(ctx context.Context, c *campaign.Campaign) error {
	counts, err := d.store.MessageStatusCounts(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("status counts: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 || counts[campaign.MessagePending] > 0 {
		return nil
	}

	if err := d.store.MarkCampaignCompleted(ctx, c.ID, time.Now()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	logger.Info("campaign completed", "campaign_id", c.ID.String())
	return nil
}

// stepEligible reports whether a message's sequence step delay has elapsed
// since the campaign first started.
func stepEligible(startedAt *time.Time, delayDays int) bool {
	if startedAt == nil {
		return false
	}
	if delayDays <= 0 {
		return true
	}
	return time.Now().After(startedAt.AddDate(0, 0, delayDays))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
