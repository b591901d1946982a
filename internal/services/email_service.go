package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"

	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// SESClient is the subset of the SES API used to deliver alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertSender delivers security alerts by e-mail through AWS SES.
// Sends are paced by a token bucket so bursts of alerts stay under the SES send rate.
type SESAlertSender struct {
	client      SESClient
	fromAddress string
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewSESAlertSender loads the default AWS config for region and creates a sender
// allowed sendsPerSecond messages per second
func NewSESAlertSender(ctx context.Context, region, fromAddress string, sendsPerSecond float64, logger *slog.Logger) (*SESAlertSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESAlertSenderWithClient(ses.NewFromConfig(cfg), fromAddress, sendsPerSecond, logger), nil
}

// NewSESAlertSenderWithClient creates a sender around an existing SES client
func NewSESAlertSenderWithClient(client SESClient, fromAddress string, sendsPerSecond float64, logger *slog.Logger) *SESAlertSender {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}
	return &SESAlertSender{
		client:      client,
		fromAddress: fromAddress,
		limiter:     rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		logger:      logger,
	}
}

// SendSecurityAlert e-mails one recipient
func (s *SESAlertSender) SendSecurityAlert(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("alert send throttled: %w", err)
	}

	sentAt := time.Now().UTC().Format(time.RFC1123)
	if ipAddress == "" {
		ipAddress = "n/a"
	}

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2 style="color: #b00020;">%s</h2>
    <p style="white-space: pre-wrap;">%s</p>
    <table style="font-size: 13px; color: #555;">
        <tr><td><strong>Source IP</strong></td><td>%s</td></tr>
        <tr><td><strong>Reported by</strong></td><td>%s</td></tr>
        <tr><td><strong>Time</strong></td><td>%s</td></tr>
    </table>
    <p style="font-size: 12px; color: #666;">This is an automated security notification. Please do not reply.</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(body), html.EscapeString(ipAddress),
		html.EscapeString(sourceName), sentAt)

	textBody := fmt.Sprintf("%s\n\n%s\n\nSource IP: %s\nReported by: %s\nTime: %s\n\nThis is an automated security notification. Please do not reply.\n",
		title, body, ipAddress, sourceName, sentAt)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[%s] %s", sourceName, title)),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	s.logger.Info("security alert email sent",
		slog.String("email", pkglogger.SanitizedEmail(toEmail)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
