package main

import (
	"context"
	"testing"
	"time"

	"github.com/voxlane/voxlane-platform/pkg/logging"
)

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
	if pool := connectPostgresPool(context.Background(), "   ", logger); pool != nil {
		t.Fatalf("expected nil pool for blank URL")
	}
}

func TestNewHTTPServerTimeouts(t *testing.T) {
	srv := newHTTPServer("8080", nil)
	if srv.Addr != ":8080" {
		t.Fatalf("expected addr :8080, got %s", srv.Addr)
	}
	if srv.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected read timeout %s", srv.ReadTimeout)
	}
	if srv.WriteTimeout != 60*time.Second {
		t.Fatalf("unexpected write timeout %s", srv.WriteTimeout)
	}
}
