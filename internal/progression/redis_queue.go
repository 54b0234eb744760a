package progression

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "fulfillment:progression:jobs"

// claimScript reads due members and pushes their score past the lease in
// one step, so two workers polling together never claim the same job.
var claimScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local limit = tonumber(ARGV[2])
local visible_at = ARGV[3]

local due = redis.call('ZRANGEBYSCORE', key, '-inf', now, 'LIMIT', 0, limit)
for _, member in ipairs(due) do
	redis.call('ZADD', key, visible_at, member)
end

return due
`)

// RedisQueue keeps jobs in a sorted set scored by the time they become
// visible, so scheduled steps survive process restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
	lease  time.Duration
	logger *slog.Logger
}

func NewRedisQueue(client *redis.Client, key string, lease time.Duration, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = defaultQueueKey
	}
	return &RedisQueue{
		client: client,
		key:    key,
		lease:  lease,
		logger: logger,
	}
}

func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: string(data),
	}).Err()
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := claimScript.Run(ctx, q.client, []string{q.key},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error("dropping undecodable progression job", "error", err, "member", member)
			if err := q.client.ZRem(ctx, q.key, member).Err(); err != nil {
				return nil, fmt.Errorf("remove undecodable job: %w", err)
			}
			continue
		}
		job.member = member
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	member := job.member
	if member == "" {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		member = string(data)
	}
	return q.client.ZRem(ctx, q.key, member).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
