package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/authguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAlertChannel implements AlertChannel for testing
type MockAlertChannel struct {
	name          string
	broadcasts    int
	BroadcastFunc func(ctx context.Context, title, body string) error
}

func (m *MockAlertChannel) Name() string { return m.name }

func (m *MockAlertChannel) Broadcast(ctx context.Context, title, body string) error {
	m.broadcasts++
	if m.BroadcastFunc != nil {
		return m.BroadcastFunc(ctx, title, body)
	}
	return nil
}

func TestNotificationService_NotifyAdmins(t *testing.T) {
	sender := &MockAlertSender{}
	slack := &MockAlertChannel{name: "slack"}
	service := services.NewNotificationService(sender, []string{"sec@example.com", "ops@example.com"}, []services.AlertChannel{slack}, testLogger())

	delivered := service.NotifyAdmins(context.Background(), "[HIGH] Security alert", "details", "")

	assert.Equal(t, 3, delivered)
	assert.Equal(t, []string{"sec@example.com", "ops@example.com"}, sender.Sent())
	assert.Equal(t, 1, slack.broadcasts)
}

func TestNotificationService_FailedDeliveryDoesNotStopOthers(t *testing.T) {
	sender := &MockAlertSender{
		SendSecurityAlertFunc: func(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error {
			if toEmail == "sec@example.com" {
				return errors.New("mailbox unavailable")
			}
			return nil
		},
	}
	broken := &MockAlertChannel{name: "discord", BroadcastFunc: func(ctx context.Context, title, body string) error {
		return errors.New("webhook returned 500")
	}}
	healthy := &MockAlertChannel{name: "slack"}
	service := services.NewNotificationService(sender, []string{"sec@example.com", "ops@example.com"}, []services.AlertChannel{broken, healthy}, testLogger())

	delivered := service.NotifyAdmins(context.Background(), "title", "body", "10.0.0.1")

	assert.Equal(t, 2, delivered)
	assert.Len(t, sender.Sent(), 2)
	assert.Equal(t, 1, healthy.broadcasts)
}

func TestNotificationService_NoSender(t *testing.T) {
	slack := &MockAlertChannel{name: "slack"}
	service := services.NewNotificationService(nil, []string{"sec@example.com"}, []services.AlertChannel{slack}, testLogger())

	assert.Equal(t, 1, service.NotifyAdmins(context.Background(), "title", "body", ""))
	assert.NoError(t, service.NotifyUser(context.Background(), "user@example.com", "title", "body", ""))
}

func TestNotificationService_NotifyUser(t *testing.T) {
	sender := &MockAlertSender{}
	service := services.NewNotificationService(sender, nil, nil, testLogger())

	require.NoError(t, service.NotifyUser(context.Background(), "user@example.com", "locked", "body", "10.0.0.1"))
	assert.Equal(t, []string{"user@example.com"}, sender.Sent())

	failing := services.NewNotificationService(&MockAlertSender{
		SendSecurityAlertFunc: func(ctx context.Context, toEmail, title, body, ipAddress, sourceName string) error {
			return errors.New("throttled")
		},
	}, nil, nil, testLogger())
	assert.Error(t, failing.NotifyUser(context.Background(), "user@example.com", "locked", "body", ""))
}

func TestShoutrrrChannel_Broadcast(t *testing.T) {
	channel := services.NewShoutrrrChannel("slack", "slack://token@channel")
	var gotURL, gotMessage string
	services.SetShoutrrrSend(channel, func(url, message string) error {
		gotURL, gotMessage = url, message
		return nil
	})

	require.NoError(t, channel.Broadcast(context.Background(), "[CRITICAL] Security alert", "4 events"))

	assert.Equal(t, "slack", channel.Name())
	assert.Equal(t, "slack://token@channel", gotURL)
	assert.Equal(t, "[CRITICAL] Security alert\n\n4 events", gotMessage)
}

func TestShoutrrrChannel_Errors(t *testing.T) {
	channel := services.NewShoutrrrChannel("generic", "generic://example.com/hook")
	services.SetShoutrrrSend(channel, func(url, message string) error {
		return errors.New("dial tcp: connection refused")
	})

	assert.Error(t, channel.Broadcast(context.Background(), "title", "body"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, channel.Broadcast(ctx, "title", "body"), context.Canceled)
}

func TestLogAlertSender(t *testing.T) {
	sender := services.NewLogAlertSender(testLogger())
	assert.NoError(t, sender.SendSecurityAlert(context.Background(), "sec@example.com", "title", "body", "", services.AlertSourceName))
}
