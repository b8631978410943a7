package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/campaign"
)

// fakeCompleter scripts responses by matching a substring of the prompt.
type fakeCompleter struct {
	mu        sync.Mutex
	calls     int
	respond   func(req CompletionRequest) (string, error)
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() PersonalizerConfig {
	return PersonalizerConfig{MaxConcurrency: 2, BatchDelay: time.Millisecond}
}

func TestPersonalizeBatchPreservesOrderAndLength(t *testing.T) {
	completer := &fakeCompleter{respond: func(req CompletionRequest) (string, error) {
		// Echo the item's own subject back so order is verifiable.
		for i := 0; i < 4; i++ {
			if strings.Contains(req.Prompt, fmt.Sprintf("Subject: original-%d", i)) {
				return fmt.Sprintf(`{"subject": "ai-%d", "body": "rewritten-%d"}`, i, i), nil
			}
		}
		return "", fmt.Errorf("unexpected prompt")
	}}

	items := make([]campaign.PersonalizationItem, 4)
	for i := range items {
		items[i] = campaign.PersonalizationItem{
			Subject: fmt.Sprintf("original-%d", i),
			Body:    "body",
		}
	}

	out := NewPersonalizer(completer, fastConfig()).PersonalizeBatch(context.Background(), items)

	require.Len(t, out, 4)
	for i := range out {
		assert.Equal(t, fmt.Sprintf("ai-%d", i), out[i].Subject)
		assert.Equal(t, fmt.Sprintf("rewritten-%d", i), out[i].Body)
	}
	assert.Equal(t, 4, completer.callCount())
}

func TestPersonalizeBatchPerItemFallback(t *testing.T) {
	completer := &fakeCompleter{respond: func(req CompletionRequest) (string, error) {
		if strings.Contains(req.Prompt, "Subject: fails") {
			return "", fmt.Errorf("rate limited")
		}
		if strings.Contains(req.Prompt, "Subject: garbage") {
			return "not json at all", nil
		}
		if strings.Contains(req.Prompt, "Subject: empty") {
			return `{"subject": "  ", "body": ""}`, nil
		}
		return `{"subject": "ai subject", "body": "ai body"}`, nil
	}}

	items := []campaign.PersonalizationItem{
		{Subject: "fails", Body: "original one"},
		{Subject: "garbage", Body: "original two"},
		{Subject: "empty", Body: "original three"},
		{Subject: "works", Body: "original four"},
	}

	out := NewPersonalizer(completer, fastConfig()).PersonalizeBatch(context.Background(), items)

	require.Len(t, out, 4)
	// Failed items keep their rendered content untouched.
	assert.Equal(t, "fails", out[0].Subject)
	assert.Equal(t, "original one", out[0].Body)
	assert.Equal(t, "garbage", out[1].Subject)
	assert.Equal(t, "empty", out[2].Subject)
	// The healthy item is rewritten.
	assert.Equal(t, "ai subject", out[3].Subject)
	assert.Equal(t, "ai body", out[3].Body)
}

func TestPersonalizeBatchEmptyInputMakesNoCalls(t *testing.T) {
	completer := &fakeCompleter{respond: func(CompletionRequest) (string, error) {
		return "", fmt.Errorf("should not be called")
	}}

	out := NewPersonalizer(completer, fastConfig()).PersonalizeBatch(context.Background(), nil)
	assert.Nil(t, out)
	assert.Equal(t, 0, completer.callCount())
}

func TestPersonalizeBatchCancelKeepsRenderedContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &fakeCompleter{respond: func(CompletionRequest) (string, error) {
		return `{"subject": "ai", "body": "ai"}`, nil
	}}

	items := []campaign.PersonalizationItem{
		{Subject: "a", Body: "a"},
		{Subject: "b", Body: "b"},
		{Subject: "c", Body: "c"},
	}

	// Cancel before the inter-batch delay; batch size 2 leaves item 3 pending.
	p := NewPersonalizer(completer, PersonalizerConfig{MaxConcurrency: 2, BatchDelay: time.Minute})
	cancel()
	out := p.PersonalizeBatch(ctx, items)

	require.Len(t, out, 3)
	assert.Equal(t, "c", out[2].Subject)
}

func TestPersonalizeBatchIncludesAttributes(t *testing.T) {
	completer := &fakeCompleter{respond: func(CompletionRequest) (string, error) {
		return `{"subject": "s", "body": "b"}`, nil
	}}

	items := []campaign.PersonalizationItem{{
		Subject:    "hello",
		Body:       "world",
		Attributes: map[string]string{"company": "Initech", "first_name": "Sam", "blank": "  "},
	}}

	NewPersonalizer(completer, fastConfig()).PersonalizeBatch(context.Background(), items)

	require.Len(t, completer.prompts, 1)
	prompt := completer.prompts[0]
	assert.Contains(t, prompt, "- company: Initech")
	assert.Contains(t, prompt, "- first_name: Sam")
	// Blank attributes are omitted from the prompt.
	assert.NotContains(t, prompt, "blank")
}
