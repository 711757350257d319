package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

const (
	// DefaultStream is the Redis stream scrape jobs are published to.
	DefaultStream = "price_tracker:jobs"
	// DefaultGroup is the consumer group the worker loop reads with.
	DefaultGroup = "price_tracker_workers"

	popBlock = 5 * time.Second
)

// Redis is a durable queue on a Redis stream with a consumer group, so
// multiple tracker instances can share one job feed.
type Redis struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger
}

// NewRedis creates the stream and consumer group when missing. consumer
// must be unique per process.
func NewRedis(ctx context.Context, client *redis.Client, stream, group, consumer string, logger *slog.Logger) (*Redis, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}

	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Redis{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   logger.With("component", "jobqueue"),
	}, nil
}

func (q *Redis) Push(ctx context.Context, job models.ScrapeJob) error {
	stamp(&job)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"data":      string(payload),
			"job_id":    job.ID,
			"url":       job.URL,
			"timestamp": fmt.Sprintf("%d", job.CreatedAt.UnixNano()),
		},
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// Pop reads the next job for this consumer, blocking in short intervals so
// context cancellation is honored. Acknowledgement happens on read; a
// crashed worker's job stays pending on its consumer and can be reclaimed
// operationally.
func (q *Redis) Pop(ctx context.Context) (models.ScrapeJob, error) {
	for {
		if ctx.Err() != nil {
			return models.ScrapeJob{}, ctx.Err()
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    popBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return models.ScrapeJob{}, ctx.Err()
			}
			return models.ScrapeJob{}, fmt.Errorf("failed to read job stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				job, err := q.decode(msg)
				if ackErr := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); ackErr != nil {
					q.logger.Error("failed to ack job", "message_id", msg.ID, "error", ackErr)
				}
				if err != nil {
					q.logger.Error("dropping malformed job", "message_id", msg.ID, "error", err)
					continue
				}
				return job, nil
			}
		}
	}
}

func (q *Redis) Size(ctx context.Context) (int, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return int(n), nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}

func (q *Redis) decode(msg redis.XMessage) (models.ScrapeJob, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return models.ScrapeJob{}, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var job models.ScrapeJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return models.ScrapeJob{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.URL == "" {
		return models.ScrapeJob{}, fmt.Errorf("message %s carries no url", msg.ID)
	}

	return job, nil
}
