package transport

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/chasehq/followup/internal/pkg/logger"
	"github.com/chasehq/followup/internal/store"
)

// SESSender delivers through AWS SES from a single verified identity.
// Unlike the Gmail sender it is process-scoped: every user's mail leaves
// from the configured from address, with the user's name as display name.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
}

// NewSESSender creates an SES sender from static credentials.
func NewSESSender(accessKey, secretKey, region, fromEmail, fromName string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, &Error{Msg: "initialize AWS config", Err: err}
	}
	return &SESSender{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// Send delivers a single email through SES.
func (s *SESSender) Send(ctx context.Context, user store.User, to, subject, htmlBody string) (string, error) {
	fromName := s.fromName
	if user.Name != "" {
		fromName = user.Name
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromName + " <" + s.fromEmail + ">"),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if user.Email != "" {
		input.ReplyToAddresses = []string{user.Email}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", &Error{Msg: "ses send", Err: err}
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(to), messageID)
	return messageID, nil
}
