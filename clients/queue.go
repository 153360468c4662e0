package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const renderJobQueueKey = "render:jobs"

// QueueClient is the work-intake side of the job driver: a Redis list used
// as an at-least-once queue of render-job identifiers, per the "Redis list
// (RPUSH/BLPOP)" transport named in the external interfaces.
type QueueClient struct {
	redis *redis.Client
}

func NewQueueClient(redisURL string) (*QueueClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to queue redis: %w", err)
	}

	return &QueueClient{redis: client}, nil
}

func (q *QueueClient) Close() error {
	return q.redis.Close()
}

// jobEnvelope is the wire format of one queue entry: just enough to let the
// job driver start its own idempotence check against the status client.
type jobEnvelope struct {
	JobID     string    `json:"job_id"`
	MixID     string    `json:"mix_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (q *QueueClient) Enqueue(ctx context.Context, jobID, mixID string) error {
	data, err := json.Marshal(jobEnvelope{JobID: jobID, MixID: mixID, EnqueuedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	return q.redis.RPush(ctx, renderJobQueueKey, data).Err()
}

// Dequeue blocks up to timeout for the next job id, returning ("", "", nil)
// if none arrived before the deadline.
func (q *QueueClient) Dequeue(ctx context.Context, timeout time.Duration) (jobID, mixID string, err error) {
	result, err := q.redis.BLPop(ctx, timeout, renderJobQueueKey).Result()
	if err == redis.Nil {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to dequeue render job: %w", err)
	}
	if len(result) != 2 {
		return "", "", fmt.Errorf("unexpected queue response shape")
	}

	var env jobEnvelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return "", "", fmt.Errorf("failed to unmarshal job envelope: %w", err)
	}
	return env.JobID, env.MixID, nil
}
