package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		redis      Pinger
		store      Pinger
		wantStatus Status
		wantCode   int
	}{
		{"all up", pingFunc(func(context.Context) error { return nil }), pingFunc(func(context.Context) error { return nil }), StatusUp, http.StatusOK},
		{"cache missing", nil, pingFunc(func(context.Context) error { return nil }), StatusDegraded, http.StatusOK},
		{"store down", nil, pingFunc(func(context.Context) error { return errors.New("refused") }), StatusDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("redis", PingCheck(tt.redis, StatusDegraded))
			c.Register("store", PingCheck(tt.store, StatusDown))

			if got := c.Run(context.Background()).Status; got != tt.wantStatus {
				t.Errorf("Run status = %s, want %s", got, tt.wantStatus)
			}
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestSlowCheckTimesOut(t *testing.T) {
	c := NewChecker()
	c.timeout = 10 * time.Millisecond
	c.Register("kafka", ErrCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, StatusDegraded))

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if msg := report.Components["kafka"].Message; msg != context.DeadlineExceeded.Error() {
		t.Errorf("message = %q", msg)
	}
}

func TestMount(t *testing.T) {
	mux := http.NewServeMux()
	NewChecker().Mount(mux)
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: code = %d", path, rec.Code)
		}
	}
}
