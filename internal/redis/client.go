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

// CooldownKey is the TTL key guarding repeat votes for a voter-target pair.
func CooldownKey(voterSteam64, targetSteam64 string) string {
	return fmt.Sprintf("cooldown:%s:%s", voterSteam64, targetSteam64)
}

// RateLimitKey is the counter key for a voter's submission rate.
func RateLimitKey(steam64 string) string {
	return fmt.Sprintf("voterate:%s", steam64)
}

// SyncCursorKey stores the last replication pull cursor for a peer node.
func SyncCursorKey(nodeID string) string {
	return fmt.Sprintf("replsync:%s", nodeID)
}
