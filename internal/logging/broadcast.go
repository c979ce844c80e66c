package logging

import (
	"container/ring"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of log lines kept in memory for the
// history snapshot served to new subscribers.
const DefaultBufferSize = 1000

var (
	broadcaster     *LogBroadcaster
	broadcasterOnce sync.Once
)

// LogBroadcaster sits in the zerolog writer chain, keeps a ring buffer of
// recent lines and fans them out to subscribers for live streaming.
type LogBroadcaster struct {
	mu          sync.RWMutex
	buffer      *ring.Ring
	subscribers map[string]chan string
	closed      bool
}

// GetBroadcaster returns the process-wide broadcaster.
func GetBroadcaster() *LogBroadcaster {
	broadcasterOnce.Do(func() {
		broadcaster = &LogBroadcaster{
			buffer:      ring.New(DefaultBufferSize),
			subscribers: make(map[string]chan string),
		}
	})
	return broadcaster
}

// Write implements io.Writer. Slow subscribers miss lines rather than
// blocking the logger.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	msg := string(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return len(p), nil
	}

	b.buffer.Value = msg
	b.buffer = b.buffer.Next()

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	return len(p), nil
}

// Subscribe registers a new subscriber and returns its id, the line channel
// and a snapshot of the buffered history.
func (b *LogBroadcaster) Subscribe() (string, chan string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, 256)
	b.subscribers[id] = ch

	return id, ch, b.historyLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *LogBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// History returns the buffered log lines, oldest first.
func (b *LogBroadcaster) History() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.historyLocked()
}

func (b *LogBroadcaster) historyLocked() []string {
	history := make([]string, 0, DefaultBufferSize)
	b.buffer.Do(func(v interface{}) {
		if v != nil {
			history = append(history, v.(string))
		}
	})
	return history
}

// Shutdown closes all subscriber channels.
func (b *LogBroadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}

// SetGlobalLevel updates the global zerolog level at runtime.
func SetGlobalLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// GetGlobalLevel returns the current global level string.
func GetGlobalLevel() string {
	return zerolog.GlobalLevel().String()
}
