package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// trackerStore is the persistence surface the engagement tracker needs.
// *campaign.Store satisfies it; tests use a fake.
type trackerStore interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*campaign.Message, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (*campaign.Message, error)
	GetCampaignByID(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error)
	MarkMessageOpened(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkMessageClicked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkMessageDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkMessageBounced(ctx context.Context, id uuid.UUID) (bool, error)
	MarkMessageReplied(ctx context.Context, id uuid.UUID, at time.Time, body string) (bool, error)
	SetReplyClassification(ctx context.Context, id uuid.UUID, classification string) error
	IncrementCampaignCounter(ctx context.Context, id uuid.UUID, counter string) error
	UpsertSuppression(ctx context.Context, orgID uuid.UUID, email, reason, source string) error
	InsertSuppressionAudit(ctx context.Context, a *campaign.SuppressionAudit) error
	IncrementMailboxBounces(ctx context.Context, id uuid.UUID) (int, error)
	IncrementMailboxComplaints(ctx context.Context, id uuid.UUID) (int, error)
	SuspendMailbox(ctx context.Context, id uuid.UUID) error
	PauseRunningCampaignsForMailbox(ctx context.Context, mailboxID uuid.UUID) (int64, error)
}

// ReplyClassifier categorizes a reply body. Implementations never fail; they
// return a safe default instead.
type ReplyClassifier interface {
	Classify(ctx context.Context, messageID uuid.UUID, replyText string) string
}

// Thresholds holds the mailbox circuit-breaker limits: when the rolling
// 30-day counter exceeds the limit, the mailbox is suspended and its running
// campaigns are paused.
type Thresholds struct {
	MailboxBounceLimit    int `yaml:"mailbox_bounce_limit"`
	MailboxComplaintLimit int `yaml:"mailbox_complaint_limit"`
}

// DefaultThresholds returns the standard circuit-breaker limits.
func DefaultThresholds() Thresholds {
	return Thresholds{MailboxBounceLimit: 50, MailboxComplaintLimit: 10}
}

// Tracker records engagement events against messages and campaigns. Every
// handler is an idempotent, monotonic state advance: duplicate or out-of-order
// provider deliveries race harmlessly, and an event referencing an unknown
// message is a logged warning, never an error, since webhook senders must not
// be made to retry on data they cannot fix.
type Tracker struct {
	store      trackerStore
	classifier ReplyClassifier
	thresholds Thresholds
}

// NewTracker creates an engagement tracker.
func NewTracker(store trackerStore, classifier ReplyClassifier, thresholds Thresholds) *Tracker {
	if thresholds.MailboxBounceLimit <= 0 {
		thresholds.MailboxBounceLimit = 50
	}
	if thresholds.MailboxComplaintLimit <= 0 {
		thresholds.MailboxComplaintLimit = 10
	}
	return &Tracker{store: store, classifier: classifier, thresholds: thresholds}
}

// lookupByTrackingID resolves a tracking token to a message. Pixel and click
// URLs embed our message id (minted before send); provider webhooks carry the
// provider message id, so both forms are accepted.
func (t *Tracker) lookupByTrackingID(ctx context.Context, trackingID string) (*campaign.Message, error) {
	if id, err := uuid.Parse(trackingID); err == nil {
		return t.store.GetMessage(ctx, id)
	}
	return t.store.GetMessageByProviderID(ctx, trackingID)
}

// RecordOpen applies the open transition. First write wins: a duplicate open
// for the same message increments the campaign counter exactly once.
func (t *Tracker) RecordOpen(ctx context.Context, trackingID string) error {
	msg, err := t.lookupByTrackingID(ctx, trackingID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("open event for unknown message", "tracking_id", trackingID)
		return nil
	}
	if err != nil {
		return err
	}

	applied, err := t.store.MarkMessageOpened(ctx, msg.ID, time.Now())
	if err != nil {
		return err
	}
	if applied {
		return t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "opened")
	}
	return nil
}

// RecordClick applies the click transition with the same first-write-wins
// idempotency. The target URL is preserved by the HTTP layer for the
// redirect; it is not needed for correctness here.
func (t *Tracker) RecordClick(ctx context.Context, trackingID string) error {
	msg, err := t.lookupByTrackingID(ctx, trackingID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("click event for unknown message", "tracking_id", trackingID)
		return nil
	}
	if err != nil {
		return err
	}

	applied, err := t.store.MarkMessageClicked(ctx, msg.ID, time.Now())
	if err != nil {
		return err
	}
	if applied {
		return t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "clicked")
	}
	return nil
}

// RecordDelivery marks a message delivered. Applies only from status "sent",
// so it never regresses an opened or bounced message.
func (t *Tracker) RecordDelivery(ctx context.Context, providerMessageID string) error {
	msg, err := t.store.GetMessageByProviderID(ctx, providerMessageID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("delivery event for unknown message", "provider_message_id", providerMessageID)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = t.store.MarkMessageDelivered(ctx, msg.ID, time.Now())
	return err
}

// RecordBounce processes an SES bounce notification: per bounced recipient it
// advances the message, bumps campaign and mailbox counters, evaluates the
// circuit breaker, and for permanent bounces suppresses the recipient.
func (t *Tracker) RecordBounce(ctx context.Context, n *SESNotification) error {
	msg, err := t.store.GetMessageByProviderID(ctx, n.Mail.MessageID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("bounce event for unknown message", "provider_message_id", n.Mail.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	camp, err := t.store.GetCampaignByID(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign lookup for bounce: %w", err)
	}

	permanent := n.Bounce.BounceType == "Permanent"
	for _, r := range n.Bounce.BouncedRecipients {
		applied, err := t.store.MarkMessageBounced(ctx, msg.ID)
		if err != nil {
			return err
		}
		if applied {
			if err := t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "bounced"); err != nil {
				return err
			}
			bounces, err := t.store.IncrementMailboxBounces(ctx, camp.MailboxID)
			if err != nil {
				return err
			}
			if bounces > t.thresholds.MailboxBounceLimit {
				t.tripCircuitBreaker(ctx, camp.MailboxID, "bounce", bounces)
			}
		}

		if permanent {
			if err := t.store.UpsertSuppression(ctx, camp.OrganizationID, r.EmailAddress,
				campaign.ReasonBounce, "ses_bounce"); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordComplaint processes an SES spam complaint: the recipient is
// suppressed, the campaign's unsubscribed counter is bumped (complaints are
// implicit unsubscribes for metrics), and the mailbox complaint breaker is
// evaluated.
func (t *Tracker) RecordComplaint(ctx context.Context, n *SESNotification) error {
	msg, err := t.store.GetMessageByProviderID(ctx, n.Mail.MessageID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("complaint event for unknown message", "provider_message_id", n.Mail.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	camp, err := t.store.GetCampaignByID(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign lookup for complaint: %w", err)
	}

	for _, r := range n.Complaint.ComplainedRecipients {
		if err := t.store.UpsertSuppression(ctx, camp.OrganizationID, r.EmailAddress,
			campaign.ReasonComplaint, "ses_complaint"); err != nil {
			return err
		}
		if err := t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "unsubscribed"); err != nil {
			return err
		}
		complaints, err := t.store.IncrementMailboxComplaints(ctx, camp.MailboxID)
		if err != nil {
			return err
		}
		if complaints > t.thresholds.MailboxComplaintLimit {
			t.tripCircuitBreaker(ctx, camp.MailboxID, "complaint", complaints)
		}
	}
	return nil
}

// tripCircuitBreaker suspends a mailbox and force-pauses its running
// campaigns. Evaluated per event, not batched.
func (t *Tracker) tripCircuitBreaker(ctx context.Context, mailboxID uuid.UUID, reason string, count int) {
	if err := t.store.SuspendMailbox(ctx, mailboxID); err != nil {
		logger.Error("failed to suspend mailbox", "mailbox_id", mailboxID.String(), "error", err.Error())
		return
	}
	paused, err := t.store.PauseRunningCampaignsForMailbox(ctx, mailboxID)
	if err != nil {
		logger.Error("failed to pause campaigns for suspended mailbox",
			"mailbox_id", mailboxID.String(), "error", err.Error())
		return
	}
	logger.Warn("mailbox circuit breaker tripped",
		"mailbox_id", mailboxID.String(),
		"reason", reason,
		"count", count,
		"campaigns_paused", paused)
}

// RecordReply correlates an inbound email to a message via its In-Reply-To /
// References headers, stores the reply, classifies it, and bumps the replied
// counter. An uncorrelatable reply is a warning, not an error.
func (t *Tracker) RecordReply(ctx context.Context, in InboundEmail) error {
	candidates := in.ReferencedMessageIDs()
	if len(candidates) == 0 {
		logger.Warn("inbound reply without correlation headers", "from", in.From)
		return nil
	}

	var msg *campaign.Message
	for _, id := range candidates {
		m, err := t.store.GetMessageByProviderID(ctx, id)
		if errors.Is(err, campaign.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		msg = m
		break
	}
	if msg == nil {
		logger.Warn("inbound reply does not match any message", "from", in.From)
		return nil
	}

	applied, err := t.store.MarkMessageReplied(ctx, msg.ID, time.Now(), in.Body())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if t.classifier != nil {
		classification := t.classifier.Classify(ctx, msg.ID, in.Body())
		if err := t.store.SetReplyClassification(ctx, msg.ID, classification); err != nil {
			logger.Error("failed to persist reply classification",
				"message_id", msg.ID.String(), "error", err.Error())
		}
	}

	return t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "replied")
}

// RecordUnsubscribe handles an RFC 8058 one-click unsubscribe for a message.
// Suppression is keyed by the message's stored recipient email, so the
// operation succeeds as long as that lookup does; everything past suppression
// is best-effort.
func (t *Tracker) RecordUnsubscribe(ctx context.Context, messageID uuid.UUID, ip, userAgent string) error {
	msg, err := t.store.GetMessage(ctx, messageID)
	if errors.Is(err, campaign.ErrNotFound) {
		logger.Warn("unsubscribe for unknown message", "message_id", messageID.String())
		return nil
	}
	if err != nil {
		return err
	}

	camp, err := t.store.GetCampaignByID(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign lookup for unsubscribe: %w", err)
	}

	if err := t.store.UpsertSuppression(ctx, camp.OrganizationID, msg.RecipientEmail,
		campaign.ReasonUnsubscribe, "one_click"); err != nil {
		return err
	}

	audit := &campaign.SuppressionAudit{
		OrganizationID: camp.OrganizationID,
		CampaignID:     msg.CampaignID,
		MessageID:      msg.ID,
		Email:          msg.RecipientEmail,
		Method:         "one_click",
		IPAddress:      ip,
		UserAgent:      userAgent,
	}
	if err := t.store.InsertSuppressionAudit(ctx, audit); err != nil {
		logger.Error("failed to write suppression audit",
			"message_id", msg.ID.String(), "error", err.Error())
	}

	return t.store.IncrementCampaignCounter(ctx, msg.CampaignID, "unsubscribed")
}
