package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
)

type stubAlerts struct {
	businessID int64
	window     int
	days       []wakala.FinancialDay
	err        error
}

func (s *stubAlerts) GetDiscrepancyAlerts(_ context.Context, businessID int64, windowDays int) ([]wakala.FinancialDay, error) {
	s.businessID, s.window = businessID, windowDays
	return s.days, s.err
}

func serve(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzReportsEveryCheck(t *testing.T) {
	router := NewRouter(RouterConfig{
		Metrics: NewMetrics(),
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return nil },
		},
	})
	rr := serve(t, router, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Equal(t, "ok", report.Status)
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, report.Checks)
}

func TestHealthzDegradesOnFailedCheck(t *testing.T) {
	router := NewRouter(RouterConfig{
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
		CheckTimeout: time.Second,
	})
	rr := serve(t, router, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, "connection refused", report.Checks["redis"])
}

func TestAlertsEndpoint(t *testing.T) {
	source := &stubAlerts{days: []wakala.FinancialDay{{
		ID:                     9,
		Date:                   time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		ComputedClosingBalance: decimal.NewFromInt(130000),
		ClosingBalance:         decimal.NewNullDecimal(decimal.NewFromInt(125000)),
		Discrepancy:            decimal.NewFromInt(5000),
		DiscrepancyNote:        "float short",
	}}}
	router := NewRouter(RouterConfig{Metrics: NewMetrics(), Alerts: source})

	rr := serve(t, router, "/wakala/4/alerts?window=14")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(4), source.businessID)
	require.Equal(t, 14, source.window)

	var views []AlertView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	require.Equal(t, []AlertView{{
		DayID: 9, Date: "2026-03-12", Expected: "130000.00", Declared: "125000.00", Discrepancy: "5000.00", Note: "float short",
	}}, views)

	rr = serve(t, router, "/wakala/4/alerts")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, wakala.DefaultAlertWindowDays, source.window)
}

func TestAlertsEndpointErrors(t *testing.T) {
	source := &stubAlerts{}
	router := NewRouter(RouterConfig{Alerts: source})

	require.Equal(t, http.StatusBadRequest, serve(t, router, "/wakala/abc/alerts").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, router, "/wakala/4/alerts?window=0").Code)

	source.err = shared.NotFound("business 4 not found")
	rr := serve(t, router, "/wakala/4/alerts")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "business 4 not found")

	source.err = errors.New("boom")
	require.Equal(t, http.StatusInternalServerError, serve(t, router, "/wakala/4/alerts").Code)
}

func TestAlertsEndpointDisabledWithoutSource(t *testing.T) {
	router := NewRouter(RouterConfig{})
	require.Equal(t, http.StatusNotFound, serve(t, router, "/wakala/4/alerts").Code)
}
