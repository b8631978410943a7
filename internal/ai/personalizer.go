package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// PersonalizerConfig bounds the batcher's concurrency and pacing.
type PersonalizerConfig struct {
	// MaxConcurrency is the batch size C; requests within a batch run
	// concurrently. Default 5.
	MaxConcurrency int
	// BatchDelay is inserted between sequential batches to respect the
	// collaborator's rate limits. Default 1s.
	BatchDelay time.Duration
}

// Personalizer rewrites rendered email templates per contact through the AI
// collaborator. Output order always matches input order, and every per-item
// failure falls back to the rendered input: personalization can never fail a
// campaign start.
type Personalizer struct {
	completer Completer
	cfg       PersonalizerConfig
}

// NewPersonalizer creates a personalization batcher.
func NewPersonalizer(completer Completer, cfg PersonalizerConfig) *Personalizer {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	return &Personalizer{completer: completer, cfg: cfg}
}

const personalizeSystemPrompt = `You are an expert cold-email copywriter. You rewrite outreach emails to feel individually written for the recipient, using the contact attributes provided. Rules:
- Keep the core offer and call to action of the original email.
- Keep roughly the original length. No greetings-only rewrites.
- Never invent facts about the recipient or their company.
- Respond with ONLY a JSON object: {"subject": "...", "body": "..."}`

// PersonalizeBatch processes items in sequential batches of MaxConcurrency,
// running requests within a batch concurrently and sleeping BatchDelay
// between batches. The returned slice has the same length and order as the
// input. An empty input makes zero external calls.
func (p *Personalizer) PersonalizeBatch(ctx context.Context, items []campaign.PersonalizationItem) []campaign.PersonalizationItem {
	if len(items) == 0 {
		return nil
	}

	out := make([]campaign.PersonalizationItem, len(items))
	copy(out, items)

	for start := 0; start < len(items); start += p.cfg.MaxConcurrency {
		end := start + p.cfg.MaxConcurrency
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				subject, body, err := p.personalizeOne(ctx, items[i])
				if err != nil {
					logger.Warn("personalization fell back to rendered template",
						"item", i, "error", err.Error())
					return
				}
				out[i].Subject = subject
				out[i].Body = body
			}(i)
		}
		wg.Wait()

		if end < len(items) {
			select {
			case <-time.After(p.cfg.BatchDelay):
			case <-ctx.Done():
				// Remaining items keep their rendered content.
				return out
			}
		}
	}
	return out
}

// personalizeOne runs one item through the collaborator. Any failure mode,
// whether a transport error, an unparseable response, or empty fields, is an
// error the caller turns into a fallback.
func (p *Personalizer) personalizeOne(ctx context.Context, item campaign.PersonalizationItem) (string, string, error) {
	resp, err := p.completer.Complete(ctx, CompletionRequest{
		System:      personalizeSystemPrompt,
		Prompt:      buildPersonalizePrompt(item),
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &parsed); err != nil {
		return "", "", fmt.Errorf("unparseable personalization response: %w", err)
	}
	if strings.TrimSpace(parsed.Subject) == "" || strings.TrimSpace(parsed.Body) == "" {
		return "", "", fmt.Errorf("personalization response has empty fields")
	}
	return parsed.Subject, parsed.Body, nil
}

func buildPersonalizePrompt(item campaign.PersonalizationItem) string {
	var b strings.Builder
	b.WriteString("Personalize this outreach email for the contact below.\n\nContact:\n")

	keys := make([]string, 0, len(item.Attributes))
	for k := range item.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(item.Attributes[k]); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	fmt.Fprintf(&b, "\nSubject: %s\n\nBody:\n%s\n", item.Subject, item.Body)
	return b.String()
}
