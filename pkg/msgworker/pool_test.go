package msgworker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewMessageWorkerPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	pool.Dispatch(MessageJob{
		Source:    "webapp",
		SessionID: "s1",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond, "Dispatch must not block the caller")
}

func TestPool_SameChatSequentialProcessing(t *testing.T) {
	pool := NewMessageWorkerPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var results []int
	var mu sync.Mutex

	for i := 1; i <= 5; i++ {
		val := i
		pool.Dispatch(MessageJob{
			Source:    "whatsapp",
			SessionID: "chat1",
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []int{1, 2, 3, 4, 5}, results, "jobs for one chat must run in order")
}

func TestPool_DifferentChatsParallelProcessing(t *testing.T) {
	pool := NewMessageWorkerPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32

	for i := 0; i < 4; i++ {
		sessionID := string(rune('A' + i))
		pool.Dispatch(MessageJob{
			Source:    "whatsapp",
			SessionID: sessionID,
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&activeCount, 1)
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)

	active := atomic.LoadInt32(&activeCount)
	assert.GreaterOrEqual(t, active, int32(2), "distinct chats should run in parallel")
}

func TestPool_RespectsMaxWorkers(t *testing.T) {
	maxWorkers := 3
	pool := NewMessageWorkerPool(maxWorkers, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32
	var maxActive int32

	for i := 0; i < 10; i++ {
		sessionID := string(rune('A' + i))
		pool.Dispatch(MessageJob{
			Source:    "whatsapp",
			SessionID: sessionID,
			Handler: func(ctx context.Context) error {
				current := atomic.AddInt32(&activeCount, 1)
				for {
					max := atomic.LoadInt32(&maxActive)
					if current <= max || atomic.CompareAndSwapInt32(&maxActive, max, current) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	max := atomic.LoadInt32(&maxActive)
	assert.LessOrEqual(t, max, int32(maxWorkers), "must not exceed worker limit")
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool := NewMessageWorkerPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx)

	var completed int32

	for i := 0; i < 2; i++ {
		pool.Dispatch(MessageJob{
			Source:    "whatsapp",
			SessionID: string(rune('A' + i)),
			Handler: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)

	cancel()
	pool.Stop()

	completedCount := atomic.LoadInt32(&completed)
	assert.Equal(t, int32(2), completedCount, "in-flight jobs must finish on shutdown")
}

func TestPool_ConsistentHashing(t *testing.T) {
	pool := NewMessageWorkerPool(4, 100)

	shard1 := pool.shardForChat("whatsapp", "chat123")
	shard2 := pool.shardForChat("whatsapp", "chat123")
	shard3 := pool.shardForChat("whatsapp", "chat123")

	assert.Equal(t, shard1, shard2)
	assert.Equal(t, shard2, shard3)

	assert.GreaterOrEqual(t, shard1, 0)
	assert.Less(t, shard1, 4)
}

func TestPool_FairDistribution(t *testing.T) {
	numWorkers := 4
	pool := NewMessageWorkerPool(numWorkers, 100)

	shardCounts := make(map[int]int)

	for i := 0; i < 100; i++ {
		shard := pool.shardForChat("whatsapp", string(rune(i)))
		shardCounts[shard]++
	}

	for shard, count := range shardCounts {
		assert.Greater(t, count, 15, "worker %d should receive >15 chats", shard)
		assert.Less(t, count, 35, "worker %d should receive <35 chats", shard)
	}
}
