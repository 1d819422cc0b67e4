package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DefaultBatchWorkers bounds Batch when workers is not positive.
const DefaultBatchWorkers = 4

// Batch embeds texts one by one over a bounded goroutine pool, for backends
// without a batch endpoint. Results keep input order. The first error
// cancels the remaining work.
func Batch(ctx context.Context, e SingleEmbedder, texts []string, workers int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	if workers > len(texts) {
		workers = len(texts)
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		out      = make([][]float32, len(texts))
	)

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, text := range texts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			emb, err := e.Embed(ctx, text)
			if err != nil {
				fail(fmt.Errorf("embedding text %d: %w", i, err))
				return
			}
			out[i] = emb
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting embedding task: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
