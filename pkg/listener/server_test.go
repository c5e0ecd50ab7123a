package listener

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func hello() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello")
	})
}

func TestServer_StartStop(t *testing.T) {
	s := New("127.0.0.1:0", hello(), "test")
	if s.IsRunning() {
		t.Fatal("expected not running initially")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected running after start")
	}

	resp, err := http.Get("http://" + s.Addr())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello" {
		t.Errorf("body: got %q, want %q", body, "hello")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected not running after stop")
	}
}

func TestServer_DoubleStartIsNoop(t *testing.T) {
	s := New("127.0.0.1:0", hello(), "test")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	addr := s.Addr()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if s.Addr() != addr {
		t.Errorf("address changed on second start: %s -> %s", addr, s.Addr())
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := New("127.0.0.1:0", hello(), "")
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("stop without start: %v", err)
	}
}

func TestServer_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := New(ln.Addr().String(), hello(), "test")
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatal("expected error when address is taken")
	}
	if s.IsRunning() {
		t.Error("expected not running after failed start")
	}
}
