package api

import (
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		sent     string
		wantSame bool
	}{
		{name: "generated", sent: "", wantSame: false},
		{name: "client value kept", sent: "trace-42", wantSame: true},
		{name: "oversized replaced", sent: strings.Repeat("x", maxRequestIDLen+1), wantSame: false},
		{name: "whitespace replaced", sent: "a b", wantSame: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header []string
			if tt.sent != "" {
				header = []string{"X-Request-ID", tt.sent}
			}
			got := env.do(t, http.MethodGet, "/version", "", "", header...).Header().Get("X-Request-ID")
			if tt.wantSame {
				if got != tt.sent {
					t.Errorf("X-Request-ID = %q, want %q", got, tt.sent)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("X-Request-ID = %q, want a generated UUID", got)
			}
		})
	}
}

func TestRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{path: "/notification/pull", status: 200, want: slog.LevelInfo},
		{path: "/health", status: 200, want: slog.LevelDebug},
		{path: "/metrics", status: 200, want: slog.LevelDebug},
		{path: "/notification/callback", status: 415, want: slog.LevelWarn},
		{path: "/health", status: 500, want: slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLogLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLogLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}
