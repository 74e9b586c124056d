package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/domain/usage"
	"github.com/ljxpython/noteai/ports"
)

// BufferedUsageRecorder buffers AI usage events and writes them in
// batches to the store.
type BufferedUsageRecorder struct {
	store         ports.UsageStore
	logger        zerolog.Logger
	buffer        []usage.Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewBufferedUsageRecorder creates a new buffered usage recorder.
func NewBufferedUsageRecorder(store ports.UsageStore, logger zerolog.Logger, batchSize int, flushInterval time.Duration) *BufferedUsageRecorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	r := &BufferedUsageRecorder{
		store:         store,
		logger:        logger,
		buffer:        make([]usage.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a usage event for processing. Non-blocking.
func (r *BufferedUsageRecorder) Record(e usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, e)

	if len(r.buffer) >= r.batchSize {
		r.flushLocked()
	}
}

// Flush forces immediate processing of queued events.
func (r *BufferedUsageRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	events := r.takeLocked()
	r.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	return r.store.RecordBatch(ctx, events)
}

// flushLocked hands the buffered events to the store without blocking
// the caller. Must be called with the mutex held. The write is tracked
// by the WaitGroup so Close waits for it.
func (r *BufferedUsageRecorder) flushLocked() {
	events := r.takeLocked()
	if len(events) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.store.RecordBatch(ctx, events); err != nil {
			r.logger.Error().Err(err).Int("events", len(events)).Msg("usage batch write failed")
		}
	}()
}

func (r *BufferedUsageRecorder) takeLocked() []usage.Event {
	if len(r.buffer) == 0 {
		return nil
	}
	events := make([]usage.Event, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]
	return events
}

func (r *BufferedUsageRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder and flushes remaining events.
func (r *BufferedUsageRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.UsageRecorder = (*BufferedUsageRecorder)(nil)
