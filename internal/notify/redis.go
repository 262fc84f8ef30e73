// internal/notify/redis.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/store"
)

// DefaultQueueName is the Redis list that change records are pushed onto for
// out-of-process consumers (live UI bridges, audit tails).
const DefaultQueueName = "partydeck_changes"

// Queue publishes committed document changes to a Redis list.
type Queue struct {
	rdb  *redis.Client
	name string
	log  *logrus.Logger
}

// NewQueue connects a Redis client and verifies it with a short ping.
func NewQueue(addr string, db int, queueName string, log *logrus.Logger) (*Queue, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Queue{rdb: rdb, name: queueName, log: log}, nil
}

// DocChanged implements store.Notifier. Failures are logged, not surfaced:
// the commit has already happened and the queue is a best-effort side channel.
func (q *Queue) DocChanged(ctx context.Context, doc store.Doc) {
	change := Change{
		Key:       doc.Key,
		Version:   doc.Version,
		Data:      doc.Data,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(change)
	if err != nil {
		if q.log != nil {
			q.log.WithError(err).WithField("key", doc.Key).Warn("failed to marshal change record")
		}
		return
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		if q.log != nil {
			q.log.WithError(err).WithField("key", doc.Key).Warn("failed to push change record")
		}
	}
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}
