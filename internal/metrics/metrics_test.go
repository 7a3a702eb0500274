package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServerServesMetricsAndHealth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewServer(ln.Addr().String(), zerolog.Nop())
	server.SetListener(ln)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = server.Stop(context.Background()) }()

	BatchesFlushed.Inc()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "zen_batches_flushed_total") {
		t.Fatalf("expected zen metrics in exposition")
	}
}
