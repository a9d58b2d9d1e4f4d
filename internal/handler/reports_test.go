package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/web3-frozen/portfolio-reporter/internal/store"
)

type fakeLister struct {
	reports []store.Report
	err     error
	source  string
	limit   int
}

func (f *fakeLister) ListReports(_ context.Context, source string, limit int) ([]store.Report, error) {
	f.source, f.limit = source, limit
	return f.reports, f.err
}

func TestReportsHandler(t *testing.T) {
	lister := &fakeLister{reports: []store.Report{
		{ID: 2, Source: "portfolio", Metrics: map[string]float64{"total_usd": 5000}, Sent: true, CreatedAt: time.Now()},
	}}
	handler := Reports(lister, slog.Default())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports?source=portfolio&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if lister.source != "portfolio" || lister.limit != 10 {
		t.Errorf("ListReports(%q, %d), want (portfolio, 10)", lister.source, lister.limit)
	}
	var got []store.Report
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Metrics["total_usd"] != 5000 {
		t.Errorf("reports = %+v", got)
	}
}

func TestReportsHandlerDefaults(t *testing.T) {
	lister := &fakeLister{}
	rec := httptest.NewRecorder()
	Reports(lister, slog.Default()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if lister.source != "" || lister.limit != defaultReportLimit {
		t.Errorf("ListReports(%q, %d), want (\"\", %d)", lister.source, lister.limit, defaultReportLimit)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestReportsHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		lister   ReportLister
		query    string
		wantCode int
	}{
		{"history disabled", nil, "", http.StatusNotFound},
		{"bad limit", &fakeLister{}, "?limit=abc", http.StatusBadRequest},
		{"negative limit", &fakeLister{}, "?limit=-1", http.StatusBadRequest},
		{"store error", &fakeLister{err: errors.New("db down")}, "", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Reports(tt.lister, slog.Default()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports"+tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
