package password

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs hash work on its own goroutines and caps how many run at once,
// so slow hashing never stalls the goroutine serving unrelated requests.
type Pool struct {
	hasher Hasher
	sem    *semaphore.Weighted
}

// NewPool wraps h. concurrency <= 0 means one slot per CPU.
func NewPool(h Hasher, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool{hasher: h, sem: semaphore.NewWeighted(int64(concurrency))}
}

type result struct {
	hash string
	ok   bool
	err  error
}

func (p *Pool) run(ctx context.Context, fn func() result) (result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return result{}, err
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (p *Pool) Hash(ctx context.Context, plain string) (string, error) {
	r, err := p.run(ctx, func() result {
		h, err := p.hasher.Hash(plain)
		return result{hash: h, err: err}
	})
	if err != nil {
		return "", err
	}
	return r.hash, r.err
}

func (p *Pool) Verify(ctx context.Context, hash, plain string) (bool, error) {
	r, err := p.run(ctx, func() result {
		ok, err := p.hasher.Verify(hash, plain)
		return result{ok: ok, err: err}
	})
	if err != nil {
		return false, err
	}
	return r.ok, r.err
}
