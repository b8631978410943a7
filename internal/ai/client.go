// Package ai wraps the language-completion collaborator used for email
// personalization and reply classification. Two backends are supported: the
// Anthropic HTTP API and AWS Bedrock. Callers treat every failure as
// recoverable; the batcher and classifier both carry mandatory fallbacks.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/outreach/internal/pkg/httpretry"
)

// CompletionRequest is one prompt sent to the collaborator.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces a text completion for a request. Implementations must
// respect ctx for cancellation; callers apply their own fallbacks on error.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// =============================================================================
// ANTHROPIC HTTP API
// =============================================================================

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
)

// AnthropicClient calls the Anthropic messages API directly.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewAnthropicClient creates a client for the Anthropic messages API.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicURL,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 1),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *AnthropicClient) SetBaseURL(url string) { c.baseURL = url }

// SetHTTPClient overrides the underlying HTTP client. Used by tests.
func (c *AnthropicClient) SetHTTPClient(doer httpretry.HTTPDoer) { c.httpClient = doer }

// Complete sends one message and returns the first content block's text.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}

	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": req.MaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.System != "" {
		reqBody["system"] = req.System
	}
	if req.Temperature > 0 {
		reqBody["temperature"] = req.Temperature
	}

	body, _ := json.Marshal(reqBody)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("anthropic error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse anthropic response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("no content in anthropic response")
	}
	return parsed.Content[0].Text, nil
}

// =============================================================================
// AWS BEDROCK
// =============================================================================

const defaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// bedrockInvoker is the slice of the Bedrock runtime client we use.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient runs completions through AWS Bedrock so all traffic stays
// inside the AWS account.
type BedrockClient struct {
	client  bedrockInvoker
	modelID string
}

// NewBedrockClient creates a Bedrock-backed completer using the default AWS
// credential chain.
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = defaultBedrockModel
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Complete invokes the model and returns the first content block's text.
func (c *BedrockClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}

	payload := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        req.MaxTokens,
		"messages": []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: req.Prompt}}},
		},
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	body, _ := json.Marshal(payload)
	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse bedrock response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("no content in bedrock response")
	}
	return parsed.Content[0].Text, nil
}

// stripCodeFence removes a surrounding markdown code block, which models add
// around JSON output despite instructions not to.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}
