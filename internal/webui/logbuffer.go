package webui

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// LogLine is one structured log entry retained for GET /api/logs.
type LogLine struct {
	TimestampISO string `json:"timestamp"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	Raw          string `json:"raw,omitempty"`
}

// LogBuffer is a fixed-capacity, FIFO-evicted ring buffer of recent log
// lines, backed by fastcache exactly as the teacher's
// CakeAutoRTTService.recentLogCache: a fastcache.Cache holding marshaled
// entries under sequence keys, plus a bounded slice of sequence numbers
// that drives eviction. It also implements io.Writer so it can sit
// alongside the process's real output in a zerolog MultiWriter sink.
type LogBuffer struct {
	mu         sync.Mutex
	cache      *fastcache.Cache
	queue      []uint64
	seq        uint64
	maxEntries int
}

// NewLogBuffer allocates a ring buffer holding at most maxEntries lines.
func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &LogBuffer{
		cache:      fastcache.New(8 << 20),
		maxEntries: maxEntries,
	}
}

// Write implements io.Writer over raw zerolog JSON output, so a LogBuffer
// can be passed straight into zerolog.New or wrapped in an io.MultiWriter
// alongside the real log destination.
func (b *LogBuffer) Write(p []byte) (int, error) {
	line := LogLine{TimestampISO: time.Now().UTC().Format(time.RFC3339), Raw: string(p)}

	var decoded struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Time    string `json:"time"`
	}
	if err := json.Unmarshal(p, &decoded); err == nil {
		if decoded.Time != "" {
			line.TimestampISO = decoded.Time
		}
		line.Level = decoded.Level
		line.Message = decoded.Message
	}

	b.push(line)
	return len(p), nil
}

// Add records a log line directly, for callers that don't go through the
// zerolog Write path (e.g. the webui server's own diagnostics).
func (b *LogBuffer) Add(level, message string) {
	b.push(LogLine{
		TimestampISO: time.Now().UTC().Format(time.RFC3339),
		Level:        level,
		Message:      message,
	})
}

func (b *LogBuffer) push(line LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoded, err := json.Marshal(line)
	if err != nil {
		return
	}

	seq := atomic.AddUint64(&b.seq, 1)
	key := []byte(fmt.Sprintf("log:%d", seq))
	b.cache.Set(key, encoded)

	if len(b.queue) >= b.maxEntries {
		evict := b.queue[0]
		b.queue = b.queue[1:]
		b.cache.Del([]byte(fmt.Sprintf("log:%d", evict)))
	}
	b.queue = append(b.queue, seq)
}

// Recent returns the retained lines, oldest first.
func (b *LogBuffer) Recent() []LogLine {
	b.mu.Lock()
	queue := make([]uint64, len(b.queue))
	copy(queue, b.queue)
	b.mu.Unlock()

	out := make([]LogLine, 0, len(queue))
	for _, seq := range queue {
		v := b.cache.Get(nil, []byte(fmt.Sprintf("log:%d", seq)))
		if len(v) == 0 {
			continue
		}
		var line LogLine
		if err := json.Unmarshal(v, &line); err != nil {
			continue
		}
		out = append(out, line)
	}
	return out
}
