package logger

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Record is one persisted log entry.
type Record struct {
	Level     string
	Component string
	Message   string
	Fields    string // JSON object
	CreatedAt time.Time
}

// Sink persists records. Implementations must be safe for use by one goroutine.
type Sink interface {
	WriteLogs(records []Record) error
}

// StoreCore is a zapcore.Core that copies entries into a Sink through a
// bounded buffer. When the buffer is full the entry is dropped so that a
// slow sink never stalls the caller.
type StoreCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	shared *storeShared
}

type storeShared struct {
	sink    Sink
	records chan Record
	done    chan struct{}
	once    sync.Once
	closed  bool
	dropped int64
	mu      sync.Mutex
}

// NewStoreCore starts the draining goroutine. Call Close to flush and stop it.
func NewStoreCore(sink Sink, level zapcore.LevelEnabler, buffer int) *StoreCore {
	if buffer <= 0 {
		buffer = 256
	}
	shared := &storeShared{
		sink:    sink,
		records: make(chan Record, buffer),
		done:    make(chan struct{}),
	}
	go shared.drain()
	return &StoreCore{LevelEnabler: level, shared: shared}
}

func (s *storeShared) drain() {
	defer close(s.done)
	batch := make([]Record, 0, 32)
	for r := range s.records {
		batch = append(batch, r)
		// Collect whatever else is already queued into the same write.
	collect:
		for len(batch) < cap(batch) {
			select {
			case next, ok := <-s.records:
				if !ok {
					break collect
				}
				batch = append(batch, next)
			default:
				break collect
			}
		}
		_ = s.sink.WriteLogs(batch)
		batch = batch[:0]
	}
}

func (c *StoreCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &StoreCore{LevelEnabler: c.LevelEnabler, fields: merged, shared: c.shared}
}

func (c *StoreCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *StoreCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	encoded := "{}"
	if len(enc.Fields) > 0 {
		if b, err := json.Marshal(enc.Fields); err == nil {
			encoded = string(b)
		}
	}

	rec := Record{
		Level:     ent.Level.String(),
		Component: ent.LoggerName,
		Message:   ent.Message,
		Fields:    encoded,
		CreatedAt: ent.Time.UTC(),
	}

	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	if c.shared.closed {
		return nil
	}
	select {
	case c.shared.records <- rec:
	default:
		c.shared.dropped++
	}
	return nil
}

func (c *StoreCore) Sync() error {
	return nil
}

// Dropped returns how many entries were discarded because the buffer was full.
func (c *StoreCore) Dropped() int64 {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.shared.dropped
}

// Close stops accepting entries and waits until queued ones reach the sink.
func (c *StoreCore) Close() {
	c.shared.once.Do(func() {
		c.shared.mu.Lock()
		c.shared.closed = true
		close(c.shared.records)
		c.shared.mu.Unlock()
	})
	<-c.shared.done
}
