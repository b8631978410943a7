package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// ClassifierConfig controls the reply classifier's pacing.
type ClassifierConfig struct {
	// CallDelay is the fixed pause between calls in batch classification.
	// Default 500ms.
	CallDelay time.Duration
}

// Classifier categorizes inbound replies. It is biased toward never dropping
// a possibly-hot lead: any failure defaults to "interested" rather than
// silently discarding the reply.
type Classifier struct {
	completer Completer
	cfg       ClassifierConfig
}

// NewClassifier creates a reply classifier.
func NewClassifier(completer Completer, cfg ClassifierConfig) *Classifier {
	if cfg.CallDelay <= 0 {
		cfg.CallDelay = 500 * time.Millisecond
	}
	return &Classifier{completer: completer, cfg: cfg}
}

const classifySystemPrompt = `You classify email replies to cold outreach into exactly one category:
- interested: the sender wants to learn more, book a call, or continue the conversation
- not_interested: a decline, rejection, or "no thanks"
- out_of_office: an automatic away/vacation responder
- unsubscribe: a request to stop emailing them
Respond with ONLY a JSON object: {"category": "<one of the four>"}`

var validCategories = map[string]bool{
	campaign.ReplyInterested:    true,
	campaign.ReplyNotInterested: true,
	campaign.ReplyOutOfOffice:   true,
	campaign.ReplyUnsubscribe:   true,
}

// Classify categorizes one reply. Never returns an error: timeouts, malformed
// responses, and unknown categories all fall back to "interested".
func (c *Classifier) Classify(ctx context.Context, messageID uuid.UUID, replyText string) string {
	resp, err := c.completer.Complete(ctx, CompletionRequest{
		System:      classifySystemPrompt,
		Prompt:      fmt.Sprintf("Classify this reply:\n\n%s", replyText),
		MaxTokens:   64,
		Temperature: 0.1,
	})
	if err != nil {
		logger.Warn("reply classification failed, defaulting to interested",
			"message_id", messageID.String(), "error", err.Error())
		return campaign.ReplyInterested
	}

	category := parseCategory(resp)
	if !validCategories[category] {
		logger.Warn("reply classification returned unknown category, defaulting to interested",
			"message_id", messageID.String(), "category", category)
		return campaign.ReplyInterested
	}
	return category
}

// BatchResult reports what a batch classification pass did.
type BatchResult struct {
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
}

// ClassifyBatch classifies a list of replied messages with a fixed inter-call
// delay. Messages with no reply body are skipped; everything else is
// classified (failures included, via the fallback).
func (c *Classifier) ClassifyBatch(ctx context.Context, msgs []*campaign.Message, persist func(ctx context.Context, id uuid.UUID, category string) error) BatchResult {
	var result BatchResult
	for i, m := range msgs {
		if strings.TrimSpace(m.ReplyBody) == "" {
			result.Skipped++
			continue
		}

		category := c.Classify(ctx, m.ID, m.ReplyBody)
		if err := persist(ctx, m.ID, category); err != nil {
			logger.Error("failed to persist reply classification",
				"message_id", m.ID.String(), "error", err.Error())
			continue
		}
		result.Classified++

		if i < len(msgs)-1 {
			select {
			case <-time.After(c.cfg.CallDelay):
			case <-ctx.Done():
				return result
			}
		}
	}
	return result
}

// parseCategory accepts either the JSON envelope the prompt asks for or a
// bare category token, which smaller models sometimes return.
func parseCategory(resp string) string {
	resp = stripCodeFence(resp)

	var parsed struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err == nil && parsed.Category != "" {
		return strings.ToLower(strings.TrimSpace(parsed.Category))
	}
	return strings.ToLower(strings.TrimSpace(resp))
}
