package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SessionChannel carries presence, pause and close events for one session.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// SignalChannel carries handshake envelopes addressed to one participant.
func SignalChannel(sessionID, participantID string) string {
	return fmt.Sprintf("signal:%s:%s", sessionID, participantID)
}
