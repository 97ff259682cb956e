package core

import (
	"context"
	"sync"
)

// AsyncClient runs Client operations on their own goroutines and hands back
// single-use result channels. Each channel receives exactly one value and is
// then closed.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	result := <-asyncClient.CreateMemoryAsync(ctx, "User likes Python")
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous vectormem client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// MemoryResult is delivered by CreateMemoryAsync.
type MemoryResult struct {
	Memory *Memory
	Error  error
}

// AsyncSearchResult is delivered by SearchMemoriesAsync.
type AsyncSearchResult struct {
	Memories []*Memory
	Error    error
}

// CreateMemoryAsync creates a memory in the background.
func (ac *AsyncClient) CreateMemoryAsync(ctx context.Context, content string, opts ...CreateOption) <-chan *MemoryResult {
	return spawn(&ac.wg, func() *MemoryResult {
		memory, err := ac.CreateMemory(ctx, content, opts...)
		return &MemoryResult{Memory: memory, Error: err}
	})
}

// SearchMemoriesAsync searches in the background.
func (ac *AsyncClient) SearchMemoriesAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	return spawn(&ac.wg, func() *AsyncSearchResult {
		memories, err := ac.SearchMemories(ctx, query, opts...)
		return &AsyncSearchResult{Memories: memories, Error: err}
	})
}

// DeleteMemoryAsync deletes a memory in the background.
func (ac *AsyncClient) DeleteMemoryAsync(ctx context.Context, id int64) <-chan error {
	return spawn(&ac.wg, func() error { return ac.DeleteMemory(ctx, id) })
}

// RebuildAsync rebuilds the index in the background. Searches keep using the
// served index until the new one is swapped in.
func (ac *AsyncClient) RebuildAsync(ctx context.Context, strategy string) <-chan error {
	return spawn(&ac.wg, func() error { return ac.Rebuild(ctx, strategy) })
}

// Wait blocks until every started operation and all queued ingestion work
// has finished.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
	ac.Client.Wait()
}

// Close waits for outstanding operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

func spawn[T any](wg *sync.WaitGroup, fn func() T) <-chan T {
	ch := make(chan T, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch <- fn()
		close(ch)
	}()
	return ch
}
