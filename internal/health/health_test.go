package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func down(context.Context) error { return errors.New("connection refused") }

func TestOverallStatus(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(Database(ok))
	hc.Register(Redis(down))

	results := hc.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["database"].Status)
	assert.Equal(t, StatusDegraded, results["redis"].Status)
	assert.Equal(t, "connection refused", results["redis"].Error)
	assert.Equal(t, StatusDegraded, hc.OverallStatus(results))

	hc.Register(Kafka(func() error { return nil }))
	hc.Register(&PingCheck{CheckName: "store", Ping: down})
	assert.Equal(t, StatusUnhealthy, hc.OverallStatus(hc.Check(context.Background())))
}

func TestHTTPHandler(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(Database(down))

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Contains(t, body["checks"], "database")
}
