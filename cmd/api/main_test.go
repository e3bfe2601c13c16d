package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/config"
	"github.com/zhouzirui/message-wall/backend/internal/service/upload"
)

func TestNewUploaderFallsBackToUnconfigured(t *testing.T) {
	u, err := newUploader(config.UploadConfig{}, "", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := u.(upload.Unconfigured); !ok {
		t.Fatalf("expected Unconfigured uploader, got %T", u)
	}
}

func TestNewUploaderUsesDisk(t *testing.T) {
	u, err := newUploader(config.UploadConfig{Dir: t.TempDir(), MaxWidth: 800}, "http://wall.local", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := u.(*upload.Resizing); !ok {
		t.Fatalf("expected resizing wrapper, got %T", u)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return")
	}
}
