package progression_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/progression"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newRedisQueue(t *testing.T, client *redis.Client) *progression.RedisQueue {
	key := "test:progression:" + t.Name()
	client.Del(context.Background(), key)
	t.Cleanup(func() { client.Del(context.Background(), key) })
	return progression.NewRedisQueue(client, key, 30*time.Second, discardLogger())
}

func TestRedisQueue_PushClaimAck(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	queue := newRedisQueue(t, client)

	job := progression.Job{
		ID:       "job-1",
		OrderID:  "order-1",
		Expected: domain.OrderStatusCompleted,
		Next:     domain.OrderStatusShipped,
		RunAt:    placedAt.Add(6 * time.Second),
	}
	if err := queue.Push(ctx, job); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	early, err := queue.Claim(ctx, placedAt, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("expected nothing due, got %d", len(early))
	}

	jobs, err := queue.Claim(ctx, placedAt.Add(6*time.Second), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].OrderID != "order-1" || jobs[0].Next != domain.OrderStatusShipped {
		t.Errorf("unexpected job: %+v", jobs[0])
	}

	if n, _ := queue.Len(ctx); n != 1 {
		t.Errorf("expected claimed job to stay stored until acknowledged, got %d", n)
	}
	if err := queue.Ack(ctx, jobs[0]); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if n, _ := queue.Len(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestRedisQueue_LeaseExpiry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	queue := newRedisQueue(t, client)
	_ = queue.Push(ctx, progression.Job{ID: "job-1", OrderID: "order-1", RunAt: placedAt})

	if jobs, _ := queue.Claim(ctx, placedAt, 10); len(jobs) != 1 {
		t.Fatalf("expected first claim to succeed, got %d", len(jobs))
	}
	if jobs, _ := queue.Claim(ctx, placedAt.Add(time.Second), 10); len(jobs) != 0 {
		t.Errorf("expected job hidden during lease, got %d", len(jobs))
	}
	if jobs, _ := queue.Claim(ctx, placedAt.Add(time.Minute), 10); len(jobs) != 1 {
		t.Errorf("expected job to reappear after lease, got %d", len(jobs))
	}
}

func TestRedisQueue_ConcurrentClaims(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	queue := newRedisQueue(t, client)
	for i := 0; i < 50; i++ {
		_ = queue.Push(ctx, progression.Job{ID: fmt.Sprintf("job-%d", i), OrderID: "order", RunAt: placedAt})
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := queue.Claim(ctx, placedAt, 20)
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				claimed[j.ID]++
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 50 {
		t.Errorf("expected all 50 jobs claimed, got %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}
