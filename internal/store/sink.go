package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// OpType identifies the kind of write operation.
type OpType int

const (
	// OpCreate creates a new document.
	OpCreate OpType = iota
	// OpUpdate updates an existing document.
	OpUpdate
)

// WriteOp is a single queued write.
type WriteOp struct {
	Type       OpType
	Collection string
	DocID      string // required for OpUpdate
	Input      map[string]any

	// Done, if non-nil, receives the result of the write exactly once.
	Done chan WriteResult
}

// WriteResult reports the outcome of a queued write.
type WriteResult struct {
	DocID string
	Err   error
}

// Sink batches writes to the store in the background. Log records and
// low-priority job field updates flow through here; checkpoint saves that
// gate step transitions call the Store directly instead, because a lost
// checkpoint means redoing paid provider work.
type Sink struct {
	store    Store
	logger   *slog.Logger
	ops      chan WriteOp
	interval time.Duration
	size     int

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewSink creates a sink flushing every interval or whenever size ops are
// queued, whichever comes first.
func NewSink(st Store, logger *slog.Logger, size int, interval time.Duration) *Sink {
	if size <= 0 {
		size = 32
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &Sink{
		store:    st,
		logger:   logger,
		ops:      make(chan WriteOp, size*4),
		interval: interval,
		size:     size,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Write queues an operation. It fails fast if the sink is closed.
func (s *Sink) Write(op WriteOp) error {
	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ops <- op:
		return nil
	case <-s.closed:
		return ErrSinkClosed
	}
}

// Close stops the sink and flushes everything already queued.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := make([]WriteOp, 0, s.size)
	for {
		select {
		case op := <-s.ops:
			batch = append(batch, op)
			if len(batch) >= s.size {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.closed:
			// Drain whatever was queued before Close.
			for {
				select {
				case op := <-s.ops:
					batch = append(batch, op)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *Sink) flush(batch []WriteOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, op := range batch {
		var (
			docID string
			err   error
		)
		switch op.Type {
		case OpCreate:
			docID, err = s.store.Create(ctx, op.Collection, op.Input)
		case OpUpdate:
			docID = op.DocID
			err = s.store.Update(ctx, op.Collection, op.DocID, op.Input)
		default:
			err = fmt.Errorf("unknown op type %d", op.Type)
		}
		if err != nil {
			s.logger.Error("sink write failed",
				"collection", op.Collection,
				"doc_id", op.DocID,
				"error", err)
		}
		if op.Done != nil {
			op.Done <- WriteResult{DocID: docID, Err: err}
		}
	}
}
