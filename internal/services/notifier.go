package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lumina-exam-agent/internal/models"
)

// Notifier is a fire-and-forget sink for user-facing messages.
type Notifier interface {
	Notify(n models.Notification)
}

func NotifyInfo(n Notifier, title, msg string) {
	n.Notify(models.Notification{Level: models.LevelInfo, Title: title, Message: msg})
}

func NotifySuccess(n Notifier, title, msg string) {
	n.Notify(models.Notification{Level: models.LevelSuccess, Title: title, Message: msg})
}

func NotifyWarning(n Notifier, title, msg string) {
	n.Notify(models.Notification{Level: models.LevelWarning, Title: title, Message: msg})
}

func NotifyError(n Notifier, title, msg string) {
	n.Notify(models.Notification{Level: models.LevelError, Title: title, Message: msg})
}

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (l *LogNotifier) Notify(n models.Notification) {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("message", n.Message)}
	switch n.Level {
	case models.LevelError:
		l.log.Error("notification", fields...)
	case models.LevelWarning:
		l.log.Warn("notification", fields...)
	default:
		l.log.Info("notification", fields...)
	}
}

// UserChannel is the per-user Redis channel the websocket hub relays to the UI.
func UserChannel(userID string) string {
	return fmt.Sprintf("user_updates:%s", userID)
}

// UpdateSink delivers a WebSocket update to the UI.
type UpdateSink interface {
	PublishUpdate(ctx context.Context, msg models.WSMessage)
}

// Publisher pushes WebSocket updates to the UI via Redis pub/sub.
type Publisher struct {
	redis  *redis.Client
	userID string
	log    *zap.Logger
}

func NewPublisher(redisClient *redis.Client, userID string, log *zap.Logger) *Publisher {
	return &Publisher{redis: redisClient, userID: userID, log: log.Named("publisher")}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (p *Publisher) PublishUpdate(ctx context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("failed to encode update", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.redis.Publish(ctx, UserChannel(p.userID), string(data)).Err(); err != nil {
		p.log.Warn("failed to publish update", zap.String("type", msg.Type), zap.Error(err))
	}
}

// Notify makes the publisher usable as a notification sink.
func (p *Publisher) Notify(n models.Notification) {
	p.PublishUpdate(context.Background(), models.WSMessage{Type: "notification", Payload: n})
}

// MultiNotifier forwards every notification to all sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n models.Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}
