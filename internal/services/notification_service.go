package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containrrr/shoutrrr"

	"github.com/BradenHooton/authguard/internal/metrics"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// AlertSourceName identifies this service in outgoing notifications
const AlertSourceName = "AuthGuard Security Monitor"

// AlertSender delivers a security notification to a single e-mail recipient
type AlertSender interface {
	SendSecurityAlert(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error
}

// AlertChannel broadcasts a notification to a shared destination (chat, webhook)
type AlertChannel interface {
	Name() string
	Broadcast(ctx context.Context, title, body string) error
}

// NotificationService fans an alert out to every admin recipient and broadcast
// channel. A failed delivery is logged and counted and never stops the others.
type NotificationService struct {
	sender     AlertSender
	channels   []AlertChannel
	recipients []string
	logger     *slog.Logger
}

// NewNotificationService creates a new NotificationService. sender may be nil when
// no e-mail transport is configured.
func NewNotificationService(sender AlertSender, recipients []string, channels []AlertChannel, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		sender:     sender,
		channels:   channels,
		recipients: recipients,
		logger:     logger,
	}
}

// NotifyAdmins sends title/body to all admin recipients and channels and
// returns the number of successful deliveries
func (s *NotificationService) NotifyAdmins(ctx context.Context, title, body, ipAddress string) int {
	delivered := 0

	if s.sender != nil {
		for _, recipient := range s.recipients {
			if err := s.sender.SendSecurityAlert(ctx, recipient, title, body, ipAddress, AlertSourceName); err != nil {
				metrics.IncNotificationFailed("email")
				s.logger.Error("failed to send security alert",
					slog.String("recipient", pkglogger.SanitizedEmail(recipient)),
					slog.String("title", title),
					slog.Any("error", err))
				continue
			}
			delivered++
		}
	}

	for _, ch := range s.channels {
		if err := ch.Broadcast(ctx, title, body); err != nil {
			metrics.IncNotificationFailed(ch.Name())
			s.logger.Error("failed to broadcast security alert",
				slog.String("channel", ch.Name()),
				slog.String("title", title),
				slog.Any("error", err))
			continue
		}
		delivered++
	}

	return delivered
}

// NotifyUser sends a notification to the account owner
func (s *NotificationService) NotifyUser(ctx context.Context, email, title, body, ipAddress string) error {
	if s.sender == nil {
		return nil
	}
	if err := s.sender.SendSecurityAlert(ctx, email, title, body, ipAddress, AlertSourceName); err != nil {
		metrics.IncNotificationFailed("email")
		return err
	}
	return nil
}

// ShoutrrrChannel broadcasts alerts to a shoutrrr service URL (Slack, Discord, Teams, generic webhook, ...)
type ShoutrrrChannel struct {
	name string
	url  string
	send func(url, message string) error
}

// NewShoutrrrChannel creates a channel for a shoutrrr URL
func NewShoutrrrChannel(name, url string) *ShoutrrrChannel {
	return &ShoutrrrChannel{name: name, url: url, send: shoutrrr.Send}
}

// Name returns the channel label used in logs and metrics
func (c *ShoutrrrChannel) Name() string {
	return c.name
}

// Broadcast sends the alert text
func (c *ShoutrrrChannel) Broadcast(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Newline separation renders well in chat apps
	msg := fmt.Sprintf("%s\n\n%s", title, body)
	if err := c.send(c.url, msg); err != nil {
		return fmt.Errorf("shoutrrr send: %w", err)
	}
	return nil
}

// LogAlertSender writes alerts to the log instead of sending them. Used when no
// e-mail transport is configured.
type LogAlertSender struct {
	logger *slog.Logger
}

// NewLogAlertSender creates a LogAlertSender
func NewLogAlertSender(logger *slog.Logger) *LogAlertSender {
	return &LogAlertSender{logger: logger}
}

// SendSecurityAlert implements AlertSender
func (s *LogAlertSender) SendSecurityAlert(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error {
	s.logger.WarnContext(ctx, "security alert",
		slog.String("recipient", pkglogger.SanitizedEmail(toEmail)),
		slog.String("title", title),
		slog.String("body", body),
		slog.String("ip_address", ipAddress),
		slog.String("source", sourceName))
	return nil
}
