package async

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tokligence/chat-relay/internal/exchangelog"
	"github.com/tokligence/chat-relay/internal/metrics"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("async exchange log closed")

// Store wraps an exchangelog.Store with asynchronous batch writes.
// Entries are queued in memory and written in batches so the request path
// never waits on disk or network.
// WARNING: Entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    exchangelog.Store
	entryChan     chan exchangelog.Entry
	batchSize     int
	flushInterval time.Duration
	sink          string
	logger        *log.Logger

	mu       sync.RWMutex
	closed   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config configures the async writer.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Queue size before entries are dropped (default: 10000)
	NumWorkers    int           // Number of parallel batch writers (default: 1)
	Sink          string        // Metrics label of the underlying sink
	Logger        *log.Logger   // Optional logger for diagnostics
}

// New wraps an existing store with async batch writing.
func New(underlying exchangelog.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 1 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan exchangelog.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		stopChan:      make(chan struct{}),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}

	s.logger.Printf("[async-exchangelog] started %d worker(s), batch_size=%d, flush_interval=%v, buffer=%d",
		cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

// batchWriter runs in a background goroutine, batching entries and writing them periodically.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]exchangelog.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logger.Printf("[async-exchangelog] worker-%d ERROR writing entry %s/%s: %v", workerID, entry.RequestID, entry.Kind, err)
				metrics.ExchangeLogWrites.WithLabelValues(s.sink, "error").Inc()
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			// Record no longer sends once closed is set, so draining without
			// blocking empties the queue.
			for {
				select {
				case entry := <-s.entryChan:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues an entry for asynchronous writing (non-blocking). When the
// queue is full the entry is dropped and counted.
func (s *Store) Record(ctx context.Context, entry exchangelog.Entry) error {
	if err := entry.Check(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.entryChan <- entry:
		return nil
	default:
		s.logger.Printf("[async-exchangelog] WARNING: queue full, dropping entry %s/%s", entry.RequestID, entry.Kind)
		metrics.ExchangeLogWrites.WithLabelValues(s.sink, "dropped").Inc()
		return nil
	}
}

// Close flushes remaining entries and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
