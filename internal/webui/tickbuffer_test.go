package webui

import (
	"testing"

	"github.com/galpt/cake-bufferbloatd/internal/daemon"
	"github.com/stretchr/testify/require"
)

func TestTickBufferRetainsInsertionOrderAndEvicts(t *testing.T) {
	b := NewTickBuffer(2)
	b.Add(daemon.TickRecord{WanName: "wan0", TickIndex: 1})
	b.Add(daemon.TickRecord{WanName: "wan0", TickIndex: 2})
	b.Add(daemon.TickRecord{WanName: "wan0", TickIndex: 3})

	recent := b.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, int64(2), recent[0].TickIndex)
	require.Equal(t, int64(3), recent[1].TickIndex)
}
