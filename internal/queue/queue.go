// Package queue is the job intake and greylist retry scheduler: a Redis
// list for incoming work plus a Redis sorted set for work deferred by a
// greylisting response. Adapted from the teacher's BRPOP main loop and
// RetryMonitor goroutine (worker/main.go), generalized from one hardcoded
// email-check job to any address batch and tagged with a run ID so a
// retried job can be traced back to the run that first queued it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one unit of work: a batch of addresses for a single domain,
// queued together so the dispatcher can reuse one MX session across them.
type Job struct {
	RunID     string    `json:"runId"`
	JobID     string    `json:"jobId"`
	Domain    string    `json:"domain"`
	Addresses []string  `json:"addresses"`
	Attempt   int       `json:"attempt"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// NewJob stamps a fresh run ID and job ID (§ ambient stack: google/uuid).
func NewJob(domain string, addresses []string) Job {
	return Job{
		RunID:     uuid.NewString(),
		JobID:     uuid.NewString(),
		Domain:    domain,
		Addresses: addresses,
		QueuedAt:  time.Now(),
	}
}

// Queue wraps a Redis client with the intake list + retry ZSET pair.
type Queue struct {
	client     *redis.Client
	listKey    string
	retryKey   string
	retryDelay time.Duration
}

// Options configures the two Redis key names and the greylist retry
// delay. Zero values fall back to the teacher's own constants.
type Options struct {
	ListKey    string
	RetryKey   string
	RetryDelay time.Duration
}

// New builds a Queue over an already-connected client.
func New(client *redis.Client, opts Options) *Queue {
	if opts.ListKey == "" {
		opts.ListKey = "smtpverify:jobs"
	}
	if opts.RetryKey == "" {
		opts.RetryKey = "smtpverify:retry"
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 15 * time.Minute
	}
	return &Queue{client: client, listKey: opts.ListKey, retryKey: opts.RetryKey, retryDelay: opts.RetryDelay}
}

// Push enqueues job for immediate processing.
func (q *Queue) Push(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.listKey, body).Err()
}

// Pop blocks up to timeout for the next job, returning (Job{}, false, nil)
// on a plain timeout so the caller's poll loop can keep spinning.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, q.listKey).Result()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	if len(result) < 2 {
		return Job{}, false, fmt.Errorf("malformed BRPOP result: %v", result)
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}

// Depth reports the number of jobs currently waiting in the intake list,
// for feeding a queue-depth gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listKey).Result()
}

// RetryDepth reports the number of jobs currently deferred in the retry
// set, for feeding a retry-queue-depth gauge.
func (q *Queue) RetryDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.retryKey).Result()
}

// Defer schedules job for retry after the configured greylist delay,
// incrementing its attempt counter.
func (q *Queue) Defer(ctx context.Context, job Job) error {
	job.Attempt++
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal retry job: %w", err)
	}
	return q.client.ZAdd(ctx, q.retryKey, redis.Z{
		Score:  float64(time.Now().Add(q.retryDelay).Unix()),
		Member: body,
	}).Err()
}

// PromoteDue moves every retry entry whose deadline has passed back onto
// the intake list, atomically removing each from the ZSET first so two
// monitors racing on the same key never double-promote one job.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	members, err := q.client.ZRangeByScore(ctx, q.retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan retry queue: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.retryKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.listKey, member).Err(); err != nil {
			q.client.ZAdd(ctx, q.retryKey, redis.Z{Score: float64(now + int64(q.retryDelay.Seconds())), Member: member})
			continue
		}
		promoted++
	}
	return promoted, nil
}

// RunRetryMonitor polls PromoteDue on interval until ctx is cancelled.
func (q *Queue) RunRetryMonitor(ctx context.Context, interval time.Duration, onPromoted func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := q.PromoteDue(ctx)
			if err == nil && n > 0 && onPromoted != nil {
				onPromoted(n)
			}
		case <-ctx.Done():
			return
		}
	}
}
