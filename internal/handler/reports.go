package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/web3-frozen/portfolio-reporter/internal/store"
)

const defaultReportLimit = 50

// ReportLister reads report history. Implemented by *store.Store.
type ReportLister interface {
	ListReports(ctx context.Context, source string, limit int) ([]store.Report, error)
}

// Reports lists stored reports, newest first. Query: ?source=&limit=.
func Reports(lister ReportLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			http.Error(w, `{"error":"report history disabled"}`, http.StatusNotFound)
			return
		}

		limit := defaultReportLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}

		reports, err := lister.ListReports(r.Context(), r.URL.Query().Get("source"), limit)
		if err != nil {
			logger.Error("list reports", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if reports == nil {
			reports = []store.Report{}
		}
		writeJSON(w, http.StatusOK, reports)
	}
}
