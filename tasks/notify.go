package tasks

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"task-client/domain"
	"task-client/storage"
)

// Invalidation announces that a write made the listed cache keys stale.
type Invalidation struct {
	Op          string    `json:"op"`
	TaskID      domain.ID `json:"taskId,omitempty"`
	Keys        []string  `json:"keys"`
	OperationID string    `json:"operationId"`
	At          time.Time `json:"at"`
}

// Notifier fans invalidations out to other cache holders.
type Notifier interface {
	Publish(ctx context.Context, inv Invalidation) error
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Invalidation) error { return nil }

// MultiNotifier publishes to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, inv Invalidation) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, inv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisNotifier publishes invalidations on a Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if client == nil {
		panic("tasks.NewRedisNotifier: redis client is nil")
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, inv Invalidation) error {
	payload, err := sonic.MarshalString(inv)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueNotifier enqueues invalidations on an Azure Storage queue for
// consumers that cannot hold a Redis subscription.
type QueueNotifier struct {
	queue messageQueue
	ttl   int32
}

// NewQueueNotifier connects to queueName. Messages expire after an hour.
func NewQueueNotifier(connStr, queueName string) (*QueueNotifier, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 10 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	return newQueueNotifier(q), nil
}

func newQueueNotifier(q messageQueue) *QueueNotifier {
	return &QueueNotifier{queue: q, ttl: int32(time.Hour / time.Second)}
}

func (n *QueueNotifier) Publish(ctx context.Context, inv Invalidation) error {
	payload, err := sonic.Marshal(inv)
	if err != nil {
		return err
	}
	ttl := n.ttl
	content := base64.StdEncoding.EncodeToString(payload)
	if _, err := n.queue.EnqueueMessage(ctx, content, &azqueue.EnqueueMessageOptions{TimeToLive: &ttl}); err != nil {
		return fmt.Errorf("enqueue invalidation: %w", err)
	}
	return nil
}

// WatchInvalidations subscribes to channel and stales the announced keys in
// store until ctx is done. Instances that keep their own in-process store use
// it to follow writes made elsewhere.
func WatchInvalidations(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, store storage.Store) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Error("invalidation subscription closed")
				return
			}
			var inv Invalidation
			if err := sonic.UnmarshalString(msg.Payload, &inv); err != nil {
				logger.WithError(err).Warn("unable to parse invalidation")
				continue
			}
			applyInvalidation(ctx, logger, store, inv)
		}
	}
}

func applyInvalidation(ctx context.Context, logger *log.Logger, store storage.Store, inv Invalidation) {
	for _, raw := range inv.Keys {
		k, err := storage.ParseKey(raw)
		if err != nil {
			logger.WithField("cache_key", raw).Warn("ignoring unknown cache key in invalidation")
			continue
		}
		if err := store.Invalidate(ctx, k); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"cache_key":    raw,
				"operation_id": inv.OperationID,
			}).Error("cache invalidation failed")
		}
	}
}
