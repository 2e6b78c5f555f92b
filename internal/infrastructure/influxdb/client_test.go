package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// waitLines polls until n lines arrived or the deadline passes.
func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines", n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "lwm2m",
		Bucket:        "resources",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, fake *fakeInflux) *influxdb.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg, nil); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := influxdb.Connect(context.Background(), testConfig(url), nil); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := connect(t, &fakeInflux{})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false")
	}
}

func TestWriteResources(t *testing.T) {
	fake := &fakeInflux{}
	client := connect(t, fake)
	at := time.Unix(1760788800, 0)

	client.WriteResourceNumber("dev-1", "/3303/0/5700", 21.5, at)
	client.WriteResourceText("dev-1", "/3303/0/5701", "Cel", at)
	client.WriteEndpointEvent("dev-1", "registered", at)
	client.Flush()

	lines := fake.waitLines(t, 3)
	joined := strings.Join(lines, "\n")

	for _, want := range []string{
		"lwm2m_resource,endpoint=dev-1,path=/3303/0/5700 value=21.5 1760788800000000000",
		`lwm2m_resource,endpoint=dev-1,path=/3303/0/5701 text="Cel" 1760788800000000000`,
		"lwm2m_event,endpoint=dev-1,event=registered count=1i 1760788800000000000",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("written lines missing %q:\n%s", want, joined)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	fake := &fakeInflux{}
	client := connect(t, fake)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	client.WriteResourceNumber("dev-1", "/3/0/9", 80, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v", err)
	}
}

type recordingLogger struct {
	mu   sync.Mutex
	errs []error
}

func (l *recordingLogger) Error(_ string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if err, ok := args[i+1].(error); ok {
			l.errs = append(l.errs, err)
		}
	}
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func TestWriteErrors_Logged(t *testing.T) {
	fake := &fakeInflux{status: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	logger := &recordingLogger{}
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), logger)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteResourceNumber("dev-1", "/3303/0/5700", 1, time.Now())
	client.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for client.WriteErrors() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if client.WriteErrors() == 0 {
		t.Fatal("WriteErrors() = 0 after a rejected batch")
	}
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errs) == 0 || !errors.Is(logger.errs[0], influxdb.ErrWriteFailed) {
		t.Errorf("logged errors = %v, want ErrWriteFailed", logger.errs)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(&fakeInflux{})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := influxdb.Connect(ctx, testConfig(srv.URL), nil); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	client.Flush()
}

// Run with -race: the error drain goroutine must not touch the write API
// while Close tears it down.
func TestConnect_CloseImmediately(t *testing.T) {
	for i := 0; i < 5; i++ {
		client := connect(t, &fakeInflux{})
		if err := client.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if client.IsConnected() {
			t.Error("IsConnected() after Close() = true")
		}
	}
}
