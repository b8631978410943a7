package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/logger"
)

// PersonalizationItem is one rendered (subject, body) pair plus the contact
// attributes the AI collaborator may draw on.
type PersonalizationItem struct {
	Subject    string
	Body       string
	Attributes map[string]string
}

// Personalizer rewrites rendered templates per contact. Implementations must
// preserve input order and length, and fall back to the input content on any
// per-item failure; personalization can never fail a campaign start.
type Personalizer interface {
	PersonalizeBatch(ctx context.Context, items []PersonalizationItem) []PersonalizationItem
}

// DispatchQueue hands a started campaign off to the background send worker.
type DispatchQueue interface {
	EnqueueCampaign(ctx context.Context, campaignID uuid.UUID) error
}

// orchestratorStore is the persistence surface the orchestrator needs.
// *Store satisfies it; tests use a fake.
type orchestratorStore interface {
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, orgID, id uuid.UUID) (*Campaign, error)
	GetMailbox(ctx context.Context, orgID, id uuid.UUID) (*Mailbox, error)
	ClientBelongsToOrg(ctx context.Context, orgID, clientID uuid.UUID) (bool, error)
	BulkCreateMessages(ctx context.Context, msgs []*Message) error
	CountMessages(ctx context.Context, campaignID uuid.UUID) (int, error)
	MarkCampaignStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCampaignCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
	RemainingCredits(ctx context.Context, orgID uuid.UUID) (int, error)
}

// Orchestrator owns the campaign state machine:
// draft → running ⇄ paused → completed. It is the only writer of campaign
// status.
type Orchestrator struct {
	store        orchestratorStore
	filter       *SuppressionFilter
	renderer     *Renderer
	personalizer Personalizer
	queue        DispatchQueue
}

// NewOrchestrator wires the campaign lifecycle service.
func NewOrchestrator(store orchestratorStore, filter *SuppressionFilter, renderer *Renderer, personalizer Personalizer, queue DispatchQueue) *Orchestrator {
	return &Orchestrator{
		store:        store,
		filter:       filter,
		renderer:     renderer,
		personalizer: personalizer,
		queue:        queue,
	}
}

// CreateCampaignRequest is the input to Create.
type CreateCampaignRequest struct {
	Name      string       `json:"name"`
	MailboxID uuid.UUID    `json:"mailbox_id"`
	ClientID  *uuid.UUID   `json:"client_id,omitempty"`
	Sequence  SequenceList `json:"sequence"`
	Schedule  Schedule     `json:"schedule"`
	Contacts  ContactList  `json:"contacts"`
}

// Create validates the definition, filters contacts through suppression, and
// persists the campaign in draft. No messages exist until Start.
func (o *Orchestrator) Create(ctx context.Context, orgID uuid.UUID, req CreateCampaignRequest) (*Campaign, error) {
	if req.Name == "" {
		return nil, Validationf("campaign name is required")
	}
	if len(req.Sequence) == 0 {
		return nil, Validationf("campaign sequence must have at least one step")
	}
	if len(req.Contacts) == 0 {
		return nil, Validationf("campaign must have at least one contact")
	}

	seen := map[int]bool{}
	for _, step := range req.Sequence {
		if step.Step < 1 {
			return nil, Validationf("sequence step index must be >= 1, got %d", step.Step)
		}
		if seen[step.Step] {
			return nil, Validationf("duplicate sequence step %d", step.Step)
		}
		seen[step.Step] = true
	}

	for _, c := range req.Contacts {
		if !ValidEmail(c.Email) {
			return nil, Validationf("invalid contact email %q", c.Email)
		}
	}

	mailbox, err := o.store.GetMailbox(ctx, orgID, req.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("mailbox lookup: %w", err)
	}
	if mailbox.Status != MailboxActive {
		return nil, Validationf("mailbox %s is not active", mailbox.Email)
	}

	if req.ClientID != nil {
		ok, err := o.store.ClientBelongsToOrg(ctx, orgID, *req.ClientID)
		if err != nil {
			return nil, fmt.Errorf("client lookup: %w", err)
		}
		if !ok {
			return nil, ErrNotFound
		}
	}

	allowed, blocked, err := o.filter.Partition(ctx, orgID, req.Contacts)
	if err != nil {
		return nil, fmt.Errorf("suppression filter: %w", err)
	}
	if len(allowed) == 0 {
		return nil, Validationf("all %d contacts are suppressed", len(blocked))
	}

	c := &Campaign{
		OrganizationID: orgID,
		MailboxID:      req.MailboxID,
		ClientID:       req.ClientID,
		Name:           req.Name,
		Status:         StatusDraft,
		Sequence:       req.Sequence,
		Schedule:       req.Schedule,
		Contacts:       allowed,
	}
	if err := o.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	logger.Info("campaign created",
		"campaign_id", c.ID.String(),
		"org_id", orgID.String(),
		"contacts", len(allowed),
		"steps", len(req.Sequence))
	return c, nil
}

// StartResult is the synchronous response to Start. Dispatch itself happens
// in the background worker.
type StartResult struct {
	Campaign            *Campaign `json:"campaign"`
	MessagesCreated     int       `json:"messages_created"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Start runs admission control, expands contacts × steps into messages, and
// enqueues the dispatch job. Valid only from draft or paused. Personalization
// failures never abort the start: content falls back to the rendered
// templates.
func (o *Orchestrator) Start(ctx context.Context, orgID, campaignID uuid.UUID) (*StartResult, error) {
	c, err := o.store.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDraft && c.Status != StatusPaused {
		return nil, fmt.Errorf("%w: cannot start campaign in status %q", ErrInvalidTransition, c.Status)
	}

	mailbox, err := o.store.GetMailbox(ctx, orgID, c.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("mailbox lookup: %w", err)
	}

	required := len(c.Contacts) * len(c.Sequence)
	remaining, err := o.store.RemainingCredits(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	if remaining < required {
		return nil, &AdmissionError{Required: required, Remaining: remaining}
	}

	created := 0
	existing, err := o.store.CountMessages(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if existing == 0 {
		msgs := o.buildMessages(ctx, c)
		if err := o.store.BulkCreateMessages(ctx, msgs); err != nil {
			return nil, fmt.Errorf("create messages: %w", err)
		}
		created = len(msgs)
	}

	now := time.Now()
	if err := o.store.MarkCampaignStarted(ctx, campaignID, now); err != nil {
		return nil, fmt.Errorf("mark started: %w", err)
	}
	c.Status = StatusRunning
	if c.StartedAt == nil {
		c.StartedAt = &now
	}

	if err := o.queue.EnqueueCampaign(ctx, campaignID); err != nil {
		// Messages are persisted; the scheduler will pick the campaign up on
		// its next sweep, so a queue hiccup is not fatal to the start.
		logger.Warn("dispatch enqueue failed", "campaign_id", campaignID.String(), "error", err.Error())
	}

	total := existing + created
	logger.Info("campaign started",
		"campaign_id", campaignID.String(),
		"messages", total,
		"resumed", existing > 0)

	return &StartResult{
		Campaign:            c,
		MessagesCreated:     created,
		EstimatedCompletion: estimateCompletion(now, total, mailbox.DailySendLimit),
	}, nil
}

// buildMessages renders every (contact, step) pair and runs AI
// personalization for the steps that request it. Always returns
// len(contacts) × len(steps) messages.
func (o *Orchestrator) buildMessages(ctx context.Context, c *Campaign) []*Message {
	var msgs []*Message
	for _, step := range c.Sequence {
		rendered := make([]PersonalizationItem, len(c.Contacts))
		for i, contact := range c.Contacts {
			rendered[i] = PersonalizationItem{
				Subject:    o.renderer.Render(step.Subject, contact),
				Body:       o.renderer.Render(step.Body, contact),
				Attributes: contactAttributes(contact),
			}
		}

		final := rendered
		if step.AIPersonalization && o.personalizer != nil {
			out := o.personalizer.PersonalizeBatch(ctx, rendered)
			// Fail open: any shape mismatch means we keep the rendered content.
			if len(out) == len(rendered) {
				final = out
			} else {
				logger.Warn("personalizer returned wrong batch size, using rendered content",
					"campaign_id", c.ID.String(), "want", len(rendered), "got", len(out))
			}
		}

		for i, contact := range c.Contacts {
			msgs = append(msgs, &Message{
				CampaignID:     c.ID,
				RecipientEmail: NormalizeEmail(contact.Email),
				RecipientName:  contact.FullName(),
				SequenceStep:   step.Step,
				Subject:        final[i].Subject,
				Body:           final[i].Body,
				Status:         MessagePending,
			})
		}
	}
	return msgs
}

// Pause stops a running campaign. In-flight dispatch checks status between
// sends, so pausing is best-effort rather than transactional.
func (o *Orchestrator) Pause(ctx context.Context, orgID, campaignID uuid.UUID) (*Campaign, error) {
	c, err := o.store.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRunning {
		return nil, fmt.Errorf("%w: cannot pause campaign in status %q", ErrInvalidTransition, c.Status)
	}
	if err := o.store.SetCampaignStatus(ctx, campaignID, StatusPaused); err != nil {
		return nil, err
	}
	c.Status = StatusPaused
	logger.Info("campaign paused", "campaign_id", campaignID.String())
	return c, nil
}

// Complete marks a campaign finished. Called externally once all messages
// have reached a terminal status.
func (o *Orchestrator) Complete(ctx context.Context, orgID, campaignID uuid.UUID) (*Campaign, error) {
	c, err := o.store.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRunning && c.Status != StatusPaused {
		return nil, fmt.Errorf("%w: cannot complete campaign in status %q", ErrInvalidTransition, c.Status)
	}
	now := time.Now()
	if err := o.store.MarkCampaignCompleted(ctx, campaignID, now); err != nil {
		return nil, err
	}
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return c, nil
}

// estimateCompletion is ceil(total / dailyLimit) days out. An estimate for
// the start response, not a delivery guarantee.
func estimateCompletion(from time.Time, totalMessages, dailyLimit int) time.Time {
	if dailyLimit <= 0 {
		dailyLimit = 1
	}
	days := (totalMessages + dailyLimit - 1) / dailyLimit
	if days < 1 {
		days = 1
	}
	return from.AddDate(0, 0, days)
}

func contactAttributes(c Contact) map[string]string {
	attrs := map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"company":    c.Company,
		"email":      c.Email,
	}
	if c.LinkedInURL != "" {
		attrs["linkedin_url"] = c.LinkedInURL
	}
	for k, v := range c.CustomFields {
		attrs[k] = v
	}
	return attrs
}
