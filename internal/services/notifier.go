package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"school-auth/internal/logging"

	"github.com/redis/go-redis/v9"
)

// Notifier delivers password reset tokens to their owner.
type Notifier interface {
	SendPasswordResetLink(ctx context.Context, email, token string) error
}

// PasswordResetMessage is the payload a mailer consumes from the channel.
type PasswordResetMessage struct {
	Email  string    `json:"email"`
	Token  string    `json:"token"`
	SentAt time.Time `json:"sent_at"`
}

// RedisNotifier publishes reset messages for an out-of-process mailer.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) SendPasswordResetLink(ctx context.Context, email, token string) error {
	payload, err := json.Marshal(PasswordResetMessage{
		Email:  email,
		Token:  token,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	receivers, err := n.client.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish password reset: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("publish password reset: no subscriber on %s", n.channel)
	}
	return nil
}

// LogNotifier is used when no Redis is configured. It records that a
// reset was requested but does not deliver the token.
type LogNotifier struct {
	log *logging.Logger
}

func NewLogNotifier(log *logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notifier")}
}

func (n *LogNotifier) SendPasswordResetLink(ctx context.Context, email, token string) error {
	n.log.Warn("password reset requested but no delivery channel is configured", "email", email)
	return nil
}
