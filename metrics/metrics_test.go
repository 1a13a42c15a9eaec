package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Attempts(t *testing.T) {
	c := NewCollector("")

	c.ObserveAttempt("Alice", 1, 100*time.Millisecond, errors.New("boom"))
	c.ObserveAttempt("Alice", 2, 100*time.Millisecond, nil)
	c.ObserveBackoff("Alice", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("Alice", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("Alice", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.backoffSeconds.WithLabelValues("Alice")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.attemptDuration))
}

func TestCollector_SessionEvents(t *testing.T) {
	c := NewCollector("test")

	c.ObserveTurn("Bob", time.Second)
	c.ObserveRound(2, 3*time.Second)
	c.ObserveHalt(&core.ExhaustedRetriesError{Player: "Bob", Attempts: 3})
	c.ObserveHalt(&core.PersistenceError{RecordID: "r", Player: "Bob", Err: errors.New("x")})
	c.ObserveHalt(errors.New("other"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("Bob")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roundsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.haltsTotal.WithLabelValues("exhausted_retries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.haltsTotal.WithLabelValues("persistence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.haltsTotal.WithLabelValues("other")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := NewCollector("same"), NewCollector("same")
	a.ObserveRound(1, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.roundsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.roundsTotal))
}

func TestCollector_MiddlewareAndHandler(t *testing.T) {
	c := NewCollector("")
	h := c.Middleware("/api/turn", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/turn", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/turn", "409")))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gm_trainer_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
