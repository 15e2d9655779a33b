package notify

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"confluencebot/internal/models"
)

// ErrFCMDisabled - клиент FCM не инициализирован
var ErrFCMDisabled = errors.New("fcm client not initialized")

// fcmSender - часть messaging.Client, которую использует FCMPusher
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPusher рассылает уведомления в топик Firebase Cloud Messaging
type FCMPusher struct {
	client fcmSender
	topic  string
}

// NewFCMPusher инициализирует Firebase по файлу сервисного аккаунта
func NewFCMPusher(ctx context.Context, credentialsFile, topic string) (*FCMPusher, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	return &FCMPusher{client: client, topic: topic}, nil
}

// Name реализует Pusher
func (p *FCMPusher) Name() string { return "fcm" }

// Push отправляет уведомление в топик
func (p *FCMPusher) Push(ctx context.Context, n *models.Notification) error {
	if p.client == nil {
		return ErrFCMDisabled
	}

	priority := "normal"
	androidPriority := messaging.PriorityDefault
	if SeverityRank(n.Severity) >= SeverityRank(models.SeverityWarn) {
		priority = "high"
		androidPriority = messaging.PriorityHigh
	}

	message := &messaging.Message{
		Topic: p.topic,
		Notification: &messaging.Notification{
			Title: Title(n),
			Body:  n.Message,
		},
		Data: Data(n),
		Android: &messaging.AndroidConfig{
			Priority: priority,
			Notification: &messaging.AndroidNotification{
				ChannelID: "trading_events",
				Priority:  androidPriority,
			},
		},
	}

	if _, err := p.client.Send(ctx, message); err != nil {
		return fmt.Errorf("send fcm message: %w", err)
	}
	return nil
}
