package campaign

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Campaign status constants
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Message status constants
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageOpened    = "opened"
	MessageClicked   = "clicked"
	MessageReplied   = "replied"
	MessageBounced   = "bounced"
	MessageFailed    = "failed"
)

// Suppression reason constants
const (
	ReasonBounce      = "bounce"
	ReasonComplaint   = "complaint"
	ReasonUnsubscribe = "unsubscribe"
)

// Mailbox status constants
const (
	MailboxActive    = "active"
	MailboxSuspended = "suspended"
)

// Reply classification constants
const (
	ReplyInterested    = "interested"
	ReplyNotInterested = "not_interested"
	ReplyOutOfOffice   = "out_of_office"
	ReplyUnsubscribe   = "unsubscribe"
)

// SequenceStep is one templated email within a campaign. Steps are immutable
// once the campaign has started.
type SequenceStep struct {
	Step              int    `json:"step"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	DelayDays         int    `json:"delay_days"`
	AIPersonalization bool   `json:"ai_personalization"`
}

// SequenceList is stored as a JSONB column.
type SequenceList []SequenceStep

func (s SequenceList) Value() (driver.Value, error) { return json.Marshal(s) }

func (s *SequenceList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, s)
}

// Schedule defines the send window for a campaign: which weekdays sending is
// allowed, the time-of-day window, and the timezone the window is evaluated in.
type Schedule struct {
	Days      []time.Weekday `json:"days"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Timezone  string         `json:"timezone"`
}

func (sc Schedule) Value() (driver.Value, error) { return json.Marshal(sc) }

func (sc *Schedule) Scan(value interface{}) error {
	if value == nil {
		*sc = Schedule{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, sc)
}

// Allows reports whether t falls inside the send window. An empty schedule
// allows everything.
func (sc Schedule) Allows(t time.Time) bool {
	if sc.Timezone != "" {
		if loc, err := time.LoadLocation(sc.Timezone); err == nil {
			t = t.In(loc)
		}
	}
	if len(sc.Days) > 0 {
		ok := false
		for _, d := range sc.Days {
			if t.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if sc.StartHour == 0 && sc.EndHour == 0 {
		return true
	}
	h := t.Hour()
	return h >= sc.StartHour && h < sc.EndHour
}

// Contact is a campaign-scoped snapshot of a recipient. Campaigns own their
// snapshot, so directory edits after creation never change an in-flight send.
type Contact struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Company      string            `json:"company,omitempty"`
	LinkedInURL  string            `json:"linkedin_url,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// FullName concatenates first and last name, trimmed.
func (c Contact) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// ContactList is stored as a JSONB column.
type ContactList []Contact

func (cl ContactList) Value() (driver.Value, error) { return json.Marshal(cl) }

func (cl *ContactList) Scan(value interface{}) error {
	if value == nil {
		*cl = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, cl)
}

// Campaign is a scheduled multi-step outbound email send to a contact list.
// Status is mutated only by the Orchestrator; the aggregate counters are
// mutated by the engagement tracker (atomic increments) and the periodic
// metrics recompute.
type Campaign struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	MailboxID      uuid.UUID    `json:"mailbox_id"`
	ClientID       *uuid.UUID   `json:"client_id,omitempty"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	Sequence       SequenceList `json:"sequence"`
	Schedule       Schedule     `json:"schedule"`
	Contacts       ContactList  `json:"contacts"`
	Sent           int          `json:"sent"`
	Opened         int          `json:"opened"`
	Clicked        int          `json:"clicked"`
	Replied        int          `json:"replied"`
	Bounced        int          `json:"bounced"`
	Unsubscribed   int          `json:"unsubscribed"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Message is one concrete rendered email for one (contact, step) pair.
// ProviderMessageID is stamped at send time and is the lookup key for every
// later engagement event.
type Message struct {
	ID                  uuid.UUID  `json:"id"`
	CampaignID          uuid.UUID  `json:"campaign_id"`
	RecipientEmail      string     `json:"recipient_email"`
	RecipientName       string     `json:"recipient_name"`
	SequenceStep        int        `json:"sequence_step"`
	Subject             string     `json:"subject"`
	Body                string     `json:"body"`
	Status              string     `json:"status"`
	ProviderMessageID   string     `json:"provider_message_id,omitempty"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ClickedAt           *time.Time `json:"clicked_at,omitempty"`
	RepliedAt           *time.Time `json:"replied_at,omitempty"`
	ReplyBody           string     `json:"reply_body,omitempty"`
	ReplyClassification string     `json:"reply_classification,omitempty"`
	Error               string     `json:"error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Mailbox is the sending identity a campaign goes out through. The rolling
// bounce/complaint counters feed the deliverability circuit breaker.
type Mailbox struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email"`
	FromName       string    `json:"from_name"`
	Status         string    `json:"status"`
	DailySendLimit int       `json:"daily_send_limit"`
	Bounces30d     int       `json:"bounces_30d"`
	Complaints30d  int       `json:"complaints_30d"`
}

// SuppressionEntry is one (tenant, email) do-not-contact record. Upserted;
// last reason/source wins.
type SuppressionEntry struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

// SuppressionAudit records who unsubscribed, from where, and how.
type SuppressionAudit struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Email          string    `json:"email"`
	Method         string    `json:"method"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
}

// NormalizeEmail lowercases and trims an address. Suppression entries and all
// suppression lookups use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail performs basic shape validation on an email address.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(domain) == 0 || len(domain) > 253 || !strings.Contains(domain, ".") {
		return false
	}
	return true
}
