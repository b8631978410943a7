package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides database operations for campaigns, messages, mailboxes,
// suppression entries, and send credits.
type Store struct {
	db *sql.DB
}

// NewStore creates a new campaign store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// CreateCampaign persists a new campaign in draft status.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = StatusDraft
	}

	query := `INSERT INTO campaigns (id, organization_id, mailbox_id, client_id, name, status,
		sequence, schedule, contacts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.OrganizationID, c.MailboxID, c.ClientID,
		c.Name, c.Status, c.Sequence, c.Schedule, c.Contacts, c.CreatedAt, c.UpdatedAt)
	return err
}

const campaignColumns = `id, organization_id, mailbox_id, client_id, name, status,
	sequence, schedule, contacts, sent, opened, clicked, replied, bounced, unsubscribed,
	started_at, completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*Campaign, error) {
	c := &Campaign{}
	err := row.Scan(&c.ID, &c.OrganizationID, &c.MailboxID, &c.ClientID, &c.Name, &c.Status,
		&c.Sequence, &c.Schedule, &c.Contacts, &c.Sent, &c.Opened, &c.Clicked, &c.Replied,
		&c.Bounced, &c.Unsubscribed, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// GetCampaign retrieves a campaign scoped to its owning tenant.
func (s *Store) GetCampaign(ctx context.Context, orgID, id uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND organization_id = $2`
	return scanCampaign(s.db.QueryRowContext(ctx, query, id, orgID))
}

// GetCampaignByID retrieves a campaign without tenant scoping. Used by the
// engagement tracker and dispatch worker, which are keyed by message ids.
func (s *Store) GetCampaignByID(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(s.db.QueryRowContext(ctx, query, id))
}

// SetCampaignStatus updates campaign status unconditionally. Transition rules
// are enforced by the Orchestrator, which is the only status writer.
func (s *Store) SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// MarkCampaignStarted transitions to running and stamps started_at once.
func (s *Store) MarkCampaignStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, started_at = COALESCE(started_at, $3), updated_at = NOW()
		 WHERE id = $1`, id, StatusRunning, at)
	return err
}

// MarkCampaignCompleted transitions to completed and stamps completed_at.
func (s *Store) MarkCampaignCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, completed_at = $3, updated_at = NOW() WHERE id = $1`,
		id, StatusCompleted, at)
	return err
}

// ListRunningCampaignIDs returns the ids of every running campaign. Used by
// the dispatch sweeper to re-enqueue work after restarts or schedule windows.
func (s *Store) ListRunningCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status = $1 ORDER BY started_at`, StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// counterColumns whitelists the campaign counters that may be incremented.
var counterColumns = map[string]bool{
	"sent": true, "opened": true, "clicked": true,
	"replied": true, "bounced": true, "unsubscribed": true,
}

// IncrementCampaignCounter atomically bumps one aggregate counter. Increments
// are in-place (n = n + 1) so concurrent webhook deliveries never lose updates.
func (s *Store) IncrementCampaignCounter(ctx context.Context, id uuid.UUID, counter string) error {
	if !counterColumns[counter] {
		return fmt.Errorf("unknown campaign counter %q", counter)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1`,
		counter, counter)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// Counters is a full set of campaign aggregates, used by the reconciliation
// recompute.
type Counters struct {
	Sent    int
	Opened  int
	Clicked int
	Replied int
	Bounced int
}

// SetCampaignCounters overwrites the recomputable aggregates. Unsubscribed is
// intentionally excluded: it is event-sourced (complaints and unsubscribes),
// not derivable from message status.
func (s *Store) SetCampaignCounters(ctx context.Context, id uuid.UUID, c Counters) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent = $2, opened = $3, clicked = $4, replied = $5, bounced = $6,
		 updated_at = NOW() WHERE id = $1`,
		id, c.Sent, c.Opened, c.Clicked, c.Replied, c.Bounced)
	return err
}

// MessageStatusCounts returns how many of a campaign's messages are in each
// status.
func (s *Store) MessageStatusCounts(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_messages WHERE campaign_id = $1 GROUP BY status`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =============================================================================
// MAILBOXES & CLIENTS
// =============================================================================

const mailboxColumns = `id, organization_id, email, from_name, status, daily_send_limit,
	bounces_30d, complaints_30d`

func scanMailbox(row interface{ Scan(...interface{}) error }) (*Mailbox, error) {
	m := &Mailbox{}
	err := row.Scan(&m.ID, &m.OrganizationID, &m.Email, &m.FromName, &m.Status,
		&m.DailySendLimit, &m.Bounces30d, &m.Complaints30d)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

// GetMailbox retrieves a mailbox scoped to its owning tenant.
func (s *Store) GetMailbox(ctx context.Context, orgID, id uuid.UUID) (*Mailbox, error) {
	query := `SELECT ` + mailboxColumns + ` FROM mailboxes WHERE id = $1 AND organization_id = $2`
	return scanMailbox(s.db.QueryRowContext(ctx, query, id, orgID))
}

// GetMailboxByID retrieves a mailbox without tenant scoping.
func (s *Store) GetMailboxByID(ctx context.Context, id uuid.UUID) (*Mailbox, error) {
	query := `SELECT ` + mailboxColumns + ` FROM mailboxes WHERE id = $1`
	return scanMailbox(s.db.QueryRowContext(ctx, query, id))
}

// IncrementMailboxBounces bumps the rolling bounce counter and returns the
// new value so the caller can evaluate the circuit breaker per event.
func (s *Store) IncrementMailboxBounces(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE mailboxes SET bounces_30d = bounces_30d + 1 WHERE id = $1 RETURNING bounces_30d`,
		id).Scan(&n)
	return n, err
}

// IncrementMailboxComplaints bumps the rolling complaint counter and returns
// the new value.
func (s *Store) IncrementMailboxComplaints(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE mailboxes SET complaints_30d = complaints_30d + 1 WHERE id = $1 RETURNING complaints_30d`,
		id).Scan(&n)
	return n, err
}

// SuspendMailbox marks a mailbox suspended.
func (s *Store) SuspendMailbox(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET status = $2 WHERE id = $1`, id, MailboxSuspended)
	return err
}

// PauseRunningCampaignsForMailbox force-pauses every running campaign on a
// mailbox. Returns the number paused.
func (s *Store) PauseRunningCampaignsForMailbox(ctx context.Context, mailboxID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE mailbox_id = $1 AND status = $3`,
		mailboxID, StatusPaused, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClientBelongsToOrg verifies a client reference is owned by the tenant.
func (s *Store) ClientBelongsToOrg(ctx context.Context, orgID, clientID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM clients WHERE id = $1 AND organization_id = $2)`,
		clientID, orgID).Scan(&exists)
	return exists, err
}

// =============================================================================
// MESSAGES
// =============================================================================

// BulkCreateMessages inserts one message per (contact, step) pair in a single
// transaction. All-or-nothing: a failed start never leaves partial messages.
func (s *Store) BulkCreateMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO campaign_messages
		(id, campaign_id, recipient_email, recipient_name, sequence_step, subject, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Status == "" {
			m.Status = MessagePending
		}
		m.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, m.ID, m.CampaignID, m.RecipientEmail,
			m.RecipientName, m.SequenceStep, m.Subject, m.Body, m.Status, m.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const messageColumns = `id, campaign_id, recipient_email, recipient_name, sequence_step,
	subject, body, status, provider_message_id, sent_at, delivered_at, opened_at, clicked_at,
	replied_at, reply_body, reply_classification, error, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	m := &Message{}
	var providerID, replyBody, replyClass, errMsg sql.NullString
	err := row.Scan(&m.ID, &m.CampaignID, &m.RecipientEmail, &m.RecipientName, &m.SequenceStep,
		&m.Subject, &m.Body, &m.Status, &providerID, &m.SentAt, &m.DeliveredAt, &m.OpenedAt,
		&m.ClickedAt, &m.RepliedAt, &replyBody, &replyClass, &errMsg, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ProviderMessageID = providerID.String
	m.ReplyBody = replyBody.String
	m.ReplyClassification = replyClass.String
	m.Error = errMsg.String
	return m, nil
}

// GetMessage retrieves a message by its own id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE id = $1`
	return scanMessage(s.db.QueryRowContext(ctx, query, id))
}

// GetMessageByProviderID looks a message up by the provider message id
// stamped at send time. This is the correlation key for every webhook.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE provider_message_id = $1`
	return scanMessage(s.db.QueryRowContext(ctx, query, providerID))
}

// ListPendingMessages returns a campaign's unsent messages in step order.
func (s *Store) ListPendingMessages(ctx context.Context, campaignID uuid.UUID) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages
		WHERE campaign_id = $1 AND status = $2 ORDER BY sequence_step, recipient_email`
	rows, err := s.db.QueryContext(ctx, query, campaignID, MessagePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total number of messages for a campaign.
func (s *Store) CountMessages(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_messages WHERE campaign_id = $1`, campaignID).Scan(&n)
	return n, err
}

// CountMailboxSentSince counts messages sent through a mailbox since a cutoff.
// Feeds the daily send limit in the dispatch worker.
func (s *Store) CountMailboxSentSince(ctx context.Context, mailboxID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_messages m
		 JOIN campaigns c ON c.id = m.campaign_id
		 WHERE c.mailbox_id = $1 AND m.sent_at >= $2`, mailboxID, since).Scan(&n)
	return n, err
}

// MarkMessageSent stamps the provider message id and sent timestamp.
func (s *Store) MarkMessageSent(ctx context.Context, id uuid.UUID, providerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET status = $2, provider_message_id = $3, sent_at = $4
		 WHERE id = $1`, id, MessageSent, providerID, at)
	return err
}

// MarkMessageFailed records a send failure.
func (s *Store) MarkMessageFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET status = $2, error = $3 WHERE id = $1`,
		id, MessageFailed, errMsg)
	return err
}

// The engagement transitions below are all first-write-wins: the guard on the
// timestamp (or current status) makes duplicate and out-of-order webhook
// deliveries race harmlessly. Each returns whether the transition applied so
// the caller increments campaign counters exactly once.

// MarkMessageOpened applies the open transition if opened_at is unset. Status
// only advances; an open arriving after a click never regresses it.
func (s *Store) MarkMessageOpened(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages
		 SET opened_at = $2,
		     status = CASE WHEN status IN ('pending', 'sent', 'delivered') THEN 'opened' ELSE status END
		 WHERE id = $1 AND opened_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMessageClicked applies the click transition if clicked_at is unset.
func (s *Store) MarkMessageClicked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages
		 SET clicked_at = $2,
		     status = CASE WHEN status IN ('pending', 'sent', 'delivered', 'opened') THEN 'clicked' ELSE status END
		 WHERE id = $1 AND clicked_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMessageDelivered applies only when the current status is exactly sent,
// so a late delivery push never regresses an opened or bounced message.
func (s *Store) MarkMessageDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET status = 'delivered', delivered_at = $2
		 WHERE id = $1 AND status = 'sent'`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMessageBounced applies the bounce transition unless the message already
// reached an engagement state.
func (s *Store) MarkMessageBounced(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET status = 'bounced'
		 WHERE id = $1 AND status IN ('pending', 'sent', 'delivered')`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMessageReplied stores the raw reply and applies the reply transition if
// replied_at is unset.
func (s *Store) MarkMessageReplied(ctx context.Context, id uuid.UUID, at time.Time, body string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET status = 'replied', replied_at = $2, reply_body = $3
		 WHERE id = $1 AND replied_at IS NULL`, id, at, body)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetReplyClassification persists the classifier's verdict.
func (s *Store) SetReplyClassification(ctx context.Context, id uuid.UUID, classification string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_messages SET reply_classification = $2 WHERE id = $1`, id, classification)
	return err
}

// ListRepliedWithoutClassification returns replied messages the classifier
// has not annotated yet.
func (s *Store) ListRepliedWithoutClassification(ctx context.Context, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages
		WHERE status = 'replied' AND (reply_classification IS NULL OR reply_classification = '')
		ORDER BY replied_at LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// =============================================================================
// SUPPRESSION
// =============================================================================

// SuppressedSubset returns which of the given emails are on the tenant's
// do-not-contact list, in one batch query. Input emails are normalized before
// matching.
func (s *Store) SuppressedSubset(ctx context.Context, orgID uuid.UUID, emails []string) (map[string]bool, error) {
	if len(emails) == 0 {
		return map[string]bool{}, nil
	}
	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = NormalizeEmail(e)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM suppression_entries WHERE organization_id = $1 AND email = ANY($2)`,
		orgID, pq.Array(normalized))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppressed := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		suppressed[email] = true
	}
	return suppressed, rows.Err()
}

// UpsertSuppression adds or refreshes a do-not-contact entry. Last
// reason/source wins.
func (s *Store) UpsertSuppression(ctx context.Context, orgID uuid.UUID, email, reason, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppression_entries (organization_id, email, reason, source, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (organization_id, email)
		 DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source`,
		orgID, NormalizeEmail(email), reason, source)
	return err
}

// InsertSuppressionAudit writes the unsubscribe audit trail record.
func (s *Store) InsertSuppressionAudit(ctx context.Context, a *SuppressionAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.Email = NormalizeEmail(a.Email)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppression_audit (id, organization_id, campaign_id, message_id, email,
		 method, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OrganizationID, a.CampaignID, a.MessageID, a.Email,
		a.Method, a.IPAddress, a.UserAgent, a.CreatedAt)
	return err
}

// =============================================================================
// SEND CREDITS
// =============================================================================

// RemainingCredits returns a tenant's remaining send-credit balance. A tenant
// with no row has zero credits.
func (s *Store) RemainingCredits(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT remaining FROM tenant_credits WHERE organization_id = $1`, orgID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// DebitCredit decrements a tenant's balance by one, floored at zero. Called
// per sent message by the dispatch worker; the admission check at start time
// is advisory only.
func (s *Store) DebitCredit(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenant_credits SET remaining = GREATEST(remaining - 1, 0)
		 WHERE organization_id = $1`, orgID)
	return err
}
