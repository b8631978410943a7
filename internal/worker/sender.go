package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/outreach/internal/pkg/logger"
)

// OutboundEmail is one email ready for delivery.
type OutboundEmail struct {
	FromName       string
	FromEmail      string
	To             string
	Subject        string
	HTMLBody       string
	TextBody       string
	UnsubscribeURL string
}

// Sender delivers an email and returns the provider's message id. The id is
// the key every later engagement event is correlated by, so a send without an
// id is treated as a failure.
type Sender interface {
	Send(ctx context.Context, msg *OutboundEmail) (providerMessageID string, err error)
}

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through AWS SES using the SDK v2.
type SESSender struct {
	client sesAPI
}

// NewSESSender creates an SES sender. With explicit credentials it uses a
// static provider; otherwise the default AWS chain.
func NewSESSender(ctx context.Context, accessKey, secretKey, region string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESSender{client: sesv2.NewFromConfig(cfg)}, nil
}

// Send delivers a single email. The List-Unsubscribe headers enable one-click
// unsubscribe in mail clients that support RFC 8058.
func (s *SESSender) Send(ctx context.Context, msg *OutboundEmail) (string, error) {
	message := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
		Body: &types.Body{
			Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
		},
	}
	if msg.TextBody != "" {
		message.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.UnsubscribeURL != "" {
		message.Headers = []types.MessageHeader{
			{Name: aws.String("List-Unsubscribe"), Value: aws.String(fmt.Sprintf("<%s>", msg.UnsubscribeURL))},
			{Name: aws.String("List-Unsubscribe-Post"), Value: aws.String("List-Unsubscribe=One-Click")},
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: message},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	if result.MessageId == nil || *result.MessageId == "" {
		return "", fmt.Errorf("ses returned no message id")
	}

	logger.Info("email sent", "to", logger.RedactEmail(msg.To), "provider_message_id", *result.MessageId)
	return *result.MessageId, nil
}
