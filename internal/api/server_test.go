package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
	"github.com/roach88/convergence/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testDay = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	testNow = testDay.Add(13 * time.Hour)
)

type fakeDetector struct {
	report convergence.TickReport
	err    error
	calls  int
	ctxErr error
}

func (f *fakeDetector) Tick(ctx context.Context) (convergence.TickReport, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.report, f.err
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func avaxResult() ir.ConvergenceResult {
	r := ir.ConvergenceResult{
		TokenSymbol:    "AVAX",
		WindowStart:    testDay,
		WindowEnd:      testDay.Add(24 * time.Hour),
		AgentsInvolved: []ir.AgentKind{ir.AgentTipster, ir.AgentWhale},
		AgentCount:     2,
		Scores: []ir.AgentScore{
			{Agent: ir.AgentTipster, Score: 70, Vote: ir.DirectionBullish, SourceID: "tip-1"},
			{Agent: ir.AgentWhale, Score: 50, Vote: ir.DirectionBullish, SourceID: "tx-1"},
		},
		AvgScore:           60,
		Multiplier:         1.7,
		ConvergenceScore:   102,
		Direction:          ir.DirectionBullish,
		DirectionAgreement: true,
		RunID:              "run-0001",
		DetectedAt:         testDay.Add(12 * time.Hour),
	}
	r.ContentHash = ir.MustHashPayload(ir.DomainConvergence, r.Payload()).String()
	return r
}

func newTestServer(t *testing.T, det Detector) (*Server, *store.Store) {
	t.Helper()
	st := setupTestStore(t)
	_, _, err := st.RecordConvergence(context.Background(), avaxResult())
	require.NoError(t, err)

	oracle := convergence.NewBoostOracle(st, 24*time.Hour, time.Second)
	return New(st, det, oracle, WithClock(testutil.NewSettableClock(testNow))), st
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(t, s, http.MethodGet, "/api/v1/convergence/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "convergence", resp.Agent)
	assert.Equal(t, int64(1), resp.TotalConvergences)
	assert.Equal(t, int64(1), resp.Recent)
}

func TestHealth_StoreDown(t *testing.T) {
	s, st := newTestServer(t, nil)
	require.NoError(t, st.Close())

	w := serve(t, s, http.MethodGet, "/api/v1/convergence/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestListSignals(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(t, s, http.MethodGet, "/api/v1/convergence/signals?limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var views []SignalView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "AVAX", views[0].Token)
	assert.Equal(t, 102.0, views[0].Score)
	assert.Equal(t, 1.7, views[0].Multiplier)
	assert.Equal(t, []ir.AgentKind{ir.AgentTipster, ir.AgentWhale}, views[0].Agents)
	assert.Empty(t, views[0].ProofTx)
}

func TestListSignals_BadLimit(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, q := range []string{"limit=0", "limit=-3", "limit=abc"} {
		w := serve(t, s, http.MethodGet, "/api/v1/convergence/signals?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(t, s, http.MethodGet, "/api/v1/convergence/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var st store.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, store.Stats{TotalConvergences: 1, Recent: 1}, st)
}

func TestBoost(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		query string
		boost float64
	}{
		{"agent=tipster&token=AVAX", 1.7},
		{"agent=whale&token=avax", 1.7},
		{"agent=narrative&token=AVAX", 1.0},
		{"agent=tipster&token=SOL", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := serve(t, s, http.MethodGet, "/api/v1/convergence/boost?"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)

			var resp struct {
				Boost float64 `json:"boost"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.boost, resp.Boost)
		})
	}
}

func TestBoost_MissingParams(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := serve(t, s, http.MethodGet, "/api/v1/convergence/boost?agent=tipster")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetect(t *testing.T) {
	det := &fakeDetector{report: convergence.TickReport{
		RunID:    "run-0007",
		Recorded: []ir.ConvergenceResult{avaxResult()},
		Degraded: []ir.AgentKind{ir.AgentNarrative},
	}}
	s, _ := newTestServer(t, det)

	w := serve(t, s, http.MethodPost, "/api/v1/convergence/detect")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, det.calls)

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-0007", resp.RunID)
	assert.Equal(t, 1, resp.Detected)
	assert.Equal(t, []string{"narrative"}, resp.Degraded)
	require.Len(t, resp.Signals, 1)
	assert.Equal(t, "AVAX", resp.Signals[0].Token)
}

func TestDetect_TickOutlivesRequest(t *testing.T) {
	det := &fakeDetector{report: convergence.TickReport{RunID: "run-0003"}}
	s, _ := newTestServer(t, det)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convergence/detect", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, 1, det.calls)
	assert.NoError(t, det.ctxErr, "tick runs on the server context")
}

func TestDetect_PartialFailureStillReports(t *testing.T) {
	det := &fakeDetector{
		report: convergence.TickReport{RunID: "run-0002", Failures: 1},
		err:    errors.New("record SOL: disk full"),
	}
	s, _ := newTestServer(t, det)

	w := serve(t, s, http.MethodPost, "/api/v1/convergence/detect")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"failures":1`)
}

func TestDetect_Disabled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := serve(t, s, http.MethodPost, "/api/v1/convergence/detect")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := serve(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}
