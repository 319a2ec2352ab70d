package webui

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/galpt/cake-bufferbloatd/internal/daemon"
)

// TickBuffer retains the most recent per-WAN TickRecords for GET
// /api/ticks, using the same fastcache-plus-eviction-queue shape as
// LogBuffer (and the teacher's recentLogCache before it).
type TickBuffer struct {
	mu         sync.Mutex
	cache      *fastcache.Cache
	queue      []uint64
	seq        uint64
	maxEntries int
}

// NewTickBuffer allocates a ring buffer holding at most maxEntries
// records across all WANs combined.
func NewTickBuffer(maxEntries int) *TickBuffer {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &TickBuffer{
		cache:      fastcache.New(8 << 20),
		maxEntries: maxEntries,
	}
}

// Add records one tick. Intended to be wired as a WanLoop.OnTick
// callback.
func (b *TickBuffer) Add(rec daemon.TickRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoded, err := json.Marshal(rec)
	if err != nil {
		return
	}

	seq := atomic.AddUint64(&b.seq, 1)
	key := []byte(fmt.Sprintf("tick:%d", seq))
	b.cache.Set(key, encoded)

	if len(b.queue) >= b.maxEntries {
		evict := b.queue[0]
		b.queue = b.queue[1:]
		b.cache.Del([]byte(fmt.Sprintf("tick:%d", evict)))
	}
	b.queue = append(b.queue, seq)
}

// Recent returns the retained records, oldest first.
func (b *TickBuffer) Recent() []daemon.TickRecord {
	b.mu.Lock()
	queue := make([]uint64, len(b.queue))
	copy(queue, b.queue)
	b.mu.Unlock()

	out := make([]daemon.TickRecord, 0, len(queue))
	for _, seq := range queue {
		v := b.cache.Get(nil, []byte(fmt.Sprintf("tick:%d", seq)))
		if len(v) == 0 {
			continue
		}
		var rec daemon.TickRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}
