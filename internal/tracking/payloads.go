package tracking

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SNS envelope message types.
const (
	snsSubscriptionConfirmation = "SubscriptionConfirmation"
	snsNotification             = "Notification"
)

// SNSEnvelope is the outer wrapper AWS SNS puts around every SES event push.
type SNSEnvelope struct {
	Type         string `json:"Type"`
	MessageId    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

// Recipient is one affected address in a bounce or complaint payload.
type Recipient struct {
	EmailAddress string `json:"emailAddress"`
}

// BouncePayload is the SES bounce detail. BounceType "Permanent" drives
// suppression.
type BouncePayload struct {
	BounceType        string      `json:"bounceType"`
	BounceSubType     string      `json:"bounceSubType"`
	BouncedRecipients []Recipient `json:"bouncedRecipients"`
}

// ComplaintPayload is the SES spam-complaint detail.
type ComplaintPayload struct {
	ComplainedRecipients  []Recipient `json:"complainedRecipients"`
	ComplaintFeedbackType string      `json:"complaintFeedbackType"`
}

// DeliveryPayload is the SES delivery confirmation detail.
type DeliveryPayload struct {
	Recipients []string `json:"recipients"`
}

// SESNotification is the tagged inner payload of an SNS Notification. Exactly
// one of Bounce/Complaint/Delivery is set, matching NotificationType; the
// loosely-typed provider JSON is decoded into this strict shape at the
// boundary before any business logic runs.
type SESNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce    *BouncePayload    `json:"bounce,omitempty"`
	Complaint *ComplaintPayload `json:"complaint,omitempty"`
	Delivery  *DeliveryPayload  `json:"delivery,omitempty"`
}

// DecodeSESNotification parses the JSON-encoded Message field of an SNS
// envelope and checks the variant matches its tag.
func DecodeSESNotification(message string) (*SESNotification, error) {
	var n SESNotification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return nil, fmt.Errorf("invalid SES notification JSON: %w", err)
	}

	switch n.NotificationType {
	case "Bounce":
		if n.Bounce == nil {
			return nil, fmt.Errorf("bounce notification missing bounce payload")
		}
	case "Complaint":
		if n.Complaint == nil {
			return nil, fmt.Errorf("complaint notification missing complaint payload")
		}
	case "Delivery":
		if n.Delivery == nil {
			return nil, fmt.Errorf("delivery notification missing delivery payload")
		}
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.NotificationType)
	}
	return &n, nil
}

// InboundEmail is the inbound-reply webhook body.
type InboundEmail struct {
	Headers map[string]string `json:"headers"`
	Subject string            `json:"subject"`
	From    string            `json:"from"`
	To      string            `json:"to"`
	Text    string            `json:"text"`
	HTML    string            `json:"html,omitempty"`
}

var messageIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)

// ReferencedMessageIDs extracts candidate provider message ids from the
// reply's In-Reply-To and References headers, in correlation-priority order:
// In-Reply-To first, then References newest-parent-first. Header names are
// matched case-insensitively.
func (e InboundEmail) ReferencedMessageIDs() []string {
	var ids []string
	seen := map[string]bool{}

	appendIDs := func(value string) {
		matches := messageIDPattern.FindAllStringSubmatch(value, -1)
		// References lists oldest ancestor first; walk backwards so the
		// direct parent is tried before the thread root.
		for i := len(matches) - 1; i >= 0; i-- {
			id := matches[i][1]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	if v := e.header("In-Reply-To"); v != "" {
		appendIDs(v)
	}
	if v := e.header("References"); v != "" {
		appendIDs(v)
	}
	return ids
}

func (e InboundEmail) header(name string) string {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Body returns the best text to feed the reply classifier: plain text when
// present, HTML otherwise.
func (e InboundEmail) Body() string {
	if strings.TrimSpace(e.Text) != "" {
		return e.Text
	}
	return e.HTML
}
