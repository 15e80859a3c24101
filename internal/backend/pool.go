package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// DialFunc opens a new connection to the graph service.
type DialFunc func() (*grpc.ClientConn, error)

// Pool bounds the number of connections in use at once. Idle connections are
// reused; a connection released as broken is closed and replaced by a fresh
// dial on the next Acquire.
type Pool struct {
	size int
	sem  *semaphore.Weighted
	dial DialFunc

	mu     sync.Mutex
	idle   []*grpc.ClientConn
	inUse  int
	closed bool
}

// NewPool creates a pool of at most size connections.
func NewPool(size int, dial DialFunc) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
		dial: dial,
	}
}

// Acquire returns a connection, waiting for a free slot until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*grpc.ClientConn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		cc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		return cc, nil
	}
	p.inUse++
	p.mu.Unlock()

	cc, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, fmt.Errorf("dial graph service: %w", err)
	}
	return cc, nil
}

// Release returns cc to the pool. Broken connections are closed.
func (p *Pool) Release(cc *grpc.ClientConn, broken bool) {
	p.mu.Lock()
	p.inUse--
	keep := !broken && !p.closed
	if keep {
		p.idle = append(p.idle, cc)
	}
	p.mu.Unlock()
	if !keep {
		_ = cc.Close()
	}
	p.sem.Release(1)
}

// Stats returns the pool size and the number of in-use and idle connections.
func (p *Pool) Stats() (size, inUse, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.inUse, len(p.idle)
}

// Close closes every idle connection. Connections in use are closed when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, cc := range idle {
		if err := cc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
