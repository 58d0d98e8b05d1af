package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/ports"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// ErrStopped is returned when work is submitted to a dispatcher that is not running.
var ErrStopped = errors.New("dispatcher stopped")

type job struct {
	ctx  context.Context
	key  string
	fn   func(ctx context.Context) error
	done chan error
}

// Dispatcher routes work to a fixed set of workers using consistent hashing
// on a key, so all work for one key runs sequentially and in arrival order
// while different keys proceed in parallel.
type Dispatcher struct {
	workers []chan job
	log     zerolog.Logger
	running atomic.Bool
	stopped chan struct{}
}

var _ ports.Serializer = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan job, numWorkers),
		log:     log,
		stopped: make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
	go func() {
		<-ctx.Done()
		d.running.Store(false)
		close(d.stopped)
	}()
}

// Do runs fn on the worker owning key and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if !d.running.Load() {
		return ErrStopped
	}
	j := job{ctx: ctx, key: key, fn: fn, done: make(chan error, 1)}
	select {
	case d.workers[d.shardIndex(key)] <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrStopped
	}

	// Once queued the job always runs; callers wait for it so replies are not
	// reordered behind a caller that gave up.
	select {
	case err := <-j.done:
		return err
	case <-d.stopped:
		return ErrStopped
	}
}

// QueueDepths reports the pending work per worker.
func (d *Dispatcher) QueueDepths() []int {
	out := make([]int, len(d.workers))
	for i, ch := range d.workers {
		out[i] = len(ch)
	}
	return out
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-ch:
			if !ok {
				return
			}
			err := d.run(j)
			if err != nil {
				d.log.Error().Err(err).
					Str("key", j.key).
					Int("worker_id", id).
					Msg("dispatched work failed")
			}
			j.done <- err
		}
	}
}

func (d *Dispatcher) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(j.ctx)
}
