// Package notify 把已写入的通知交给推送通道；传输语义由下游负责。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smarthouse-data/internal/domain"

	"github.com/go-redis/redis/v8"
)

// Publisher 通知推送
type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

// NopPublisher 不推送
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, n *domain.Notification) error { return nil }

// RedisStreamPublisher XADD 到 Redis Stream，消费者组由推送服务自行创建
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher maxLen <= 0 表示不裁剪
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":        n.ID,
			"recipient": n.RecipientID,
			"data":      string(data),
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish notification to stream %s: %w", p.stream, err)
	}
	return nil
}
