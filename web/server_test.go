package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/internal/enginetest"
)

func TestNewServerRequiresAddr(t *testing.T) {
	env := enginetest.New(t, nil)
	if _, err := NewServer(context.Background(), env.Engine, Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestServerServesUntilCancelled(t *testing.T) {
	env := enginetest.New(t, nil)
	srv, err := NewServer(context.Background(), env.Engine, Config{HTTPAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNilServer(t *testing.T) {
	var srv *Server
	if err := srv.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error from nil server")
	}
	srv.Close()
	if srv.Addr() != "" {
		t.Fatal("nil server has no address")
	}
}
