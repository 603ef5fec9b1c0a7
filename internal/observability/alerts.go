package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/annacash/annacash/internal/platform/httpx"
	"github.com/annacash/annacash/internal/wakala"
)

// AlertSource lists closed days with a non-zero discrepancy.
type AlertSource interface {
	GetDiscrepancyAlerts(ctx context.Context, businessID int64, windowDays int) ([]wakala.FinancialDay, error)
}

// AlertView is the JSON form of one discrepancy alert.
type AlertView struct {
	DayID       int64  `json:"day_id"`
	Date        string `json:"date"`
	Expected    string `json:"expected"`
	Declared    string `json:"declared"`
	Discrepancy string `json:"discrepancy"`
	Note        string `json:"note,omitempty"`
}

func alertsLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "alert lookups are rate limited")
		}),
	)
}

func alertsHandler(source AlertSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, err := strconv.ParseInt(chi.URLParam(r, "businessID"), 10, 64)
		if err != nil || businessID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "business id must be a positive integer")
			return
		}
		window := wakala.DefaultAlertWindowDays
		if raw := r.URL.Query().Get("window"); raw != "" {
			window, err = strconv.Atoi(raw)
			if err != nil || window <= 0 {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "window must be a positive number of days")
				return
			}
		}
		days, err := source.GetDiscrepancyAlerts(r.Context(), businessID, window)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		views := make([]AlertView, 0, len(days))
		for _, day := range days {
			views = append(views, AlertView{
				DayID:       day.ID,
				Date:        day.Date.Format(time.DateOnly),
				Expected:    day.ComputedClosingBalance.StringFixed(2),
				Declared:    day.ClosingBalance.Decimal.StringFixed(2),
				Discrepancy: day.Discrepancy.StringFixed(2),
				Note:        day.DiscrepancyNote,
			})
		}
		httpx.JSON(w, http.StatusOK, views)
	}
}
