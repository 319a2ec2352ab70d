package webui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/galpt/cake-bufferbloatd/internal/daemon"
	"github.com/galpt/cake-bufferbloatd/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotter struct {
	snap daemon.HealthSnapshot
}

func (f fakeSnapshotter) Snapshot() daemon.HealthSnapshot { return f.snap }

func newTestServer() *Server {
	snap := daemon.HealthSnapshot{
		Wans: []daemon.WanHealth{{WanName: "wan0", DownloadState: "GREEN", UploadState: "GREEN"}},
	}
	return New(0, fakeSnapshotter{snap: snap}, NewLogBuffer(10), NewTickBuffer(10), logging.New(false, nil))
}

func newTestRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/logs", s.handleLogs)
	r.GET("/api/ticks", s.handleTicks)
	return r
}

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	s := newTestServer()
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap daemon.HealthSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Wans, 1)
	require.Equal(t, "wan0", snap.Wans[0].WanName)
}

func TestHandleLogsReturnsRecentLines(t *testing.T) {
	s := newTestServer()
	s.Logs.Add("info", "hello")
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var lines []LogLine
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	require.Equal(t, "hello", lines[0].Message)
}

func TestHandleTicksReturnsRecentRecords(t *testing.T) {
	s := newTestServer()
	s.Ticks.Add(daemon.TickRecord{WanName: "wan0", TickIndex: 7})
	r := newTestRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/ticks", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var recs []daemon.TickRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, int64(7), recs[0].TickIndex)
}
