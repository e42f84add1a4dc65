package batch

import (
	"context"
	"runtime"
	"sync"
)

// Pool runs a function over submitted file paths on a fixed number of
// goroutines. Each goroutine handles one path at a time.
type Pool struct {
	size  int
	paths chan string
	wg    sync.WaitGroup
}

// NewPool creates a pool of size goroutines. A size of zero or less means one
// goroutine per available CPU.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{size: size, paths: make(chan string)}
}

// Size returns the number of goroutines in the pool.
func (p *Pool) Size() int {
	return p.size
}

// Start starts the goroutines. work is called once per submitted path.
func (p *Pool) Start(work func(path string)) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			for path := range p.paths {
				work(path)
			}
			p.wg.Done()
		}()
	}
}

// Submit hands path to the next idle goroutine. It returns false without
// submitting if ctx is done first.
func (p *Pool) Submit(ctx context.Context, path string) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.paths <- path:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait stops accepting paths and blocks until every submitted path has been
// processed.
func (p *Pool) Wait() {
	close(p.paths)
	p.wg.Wait()
}
