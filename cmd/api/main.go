package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/zhouzirui/message-wall/backend/internal/config"
	"github.com/zhouzirui/message-wall/backend/internal/handler"
	"github.com/zhouzirui/message-wall/backend/internal/handler/wall"
	"github.com/zhouzirui/message-wall/backend/internal/service/admission"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
	"github.com/zhouzirui/message-wall/backend/internal/service/upload"
	wallService "github.com/zhouzirui/message-wall/backend/internal/service/wall"
	"github.com/zhouzirui/message-wall/backend/internal/storage"
	"github.com/zhouzirui/message-wall/backend/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logs.GetLoggerFromString(strings.ToUpper(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(ctx, cfg.Store.URI, storage.Options{Database: cfg.Store.Database, Log: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close message store", "error", err)
		}
	}()

	limits := admission.Limits{
		MaxTextLength:   cfg.Wall.MaxMessageLength,
		MaxSenderLength: cfg.Wall.MaxSenderNameLength,
		MaxImageBytes:   cfg.Wall.MaxImageBytes,
		Window:          cfg.Wall.RateLimitWindow,
	}
	controller := admission.New(limits, admission.WithLogger(logger))
	go controller.Run(ctx)

	hub := broadcast.NewHub(logger, cfg.Wall.HubBuffer, 16)
	go hub.Run(ctx)

	uploader, err := newUploader(cfg.Upload, cfg.Server.PublicURL, logger)
	if err != nil {
		return err
	}

	wallSvc := wallService.NewService(store, controller, uploader, hub,
		wallService.WithUploadTimeout(cfg.Upload.Timeout),
		wallService.WithLogger(logger),
	)

	renderer, err := web.NewRenderer()
	if err != nil {
		return err
	}

	router := handler.NewRouter(handler.Deps{
		Wall:     wallSvc,
		Hub:      hub,
		Renderer: renderer,
		Options: wall.Options{
			Limits:           controller.Limits(),
			LatestLimit:      cfg.Wall.LatestLimit,
			RotationInterval: cfg.Wall.RotationInterval,
			ResyncInterval:   cfg.Wall.ResyncInterval,
			PublicURL:        cfg.Server.PublicURL,
		},
		UploadDir: cfg.Upload.Dir,
		Log:       logger,
	})

	return startServer(ctx, cfg.Server, router, logger)
}

// newUploader prefers Cloudinary, then a local directory. With neither the
// wall still accepts photos but stores messages without them.
func newUploader(cfg config.UploadConfig, publicURL string, logger *slog.Logger) (upload.Uploader, error) {
	var next upload.Uploader
	switch {
	case cfg.CloudinaryURL != "":
		cld, err := upload.NewCloudinary(cfg.CloudinaryURL, cfg.Folder)
		if err != nil {
			return nil, err
		}
		logger.Info("photo uploads go to cloudinary", "folder", cfg.Folder)
		next = cld
	case cfg.Dir != "":
		disk, err := upload.NewDisk(cfg.Dir, publicURL+"/uploads")
		if err != nil {
			return nil, err
		}
		logger.Info("photo uploads are stored on disk", "dir", cfg.Dir)
		next = disk
	default:
		logger.Warn("no photo storage configured, messages will be saved without pictures")
		return upload.Unconfigured{}, nil
	}
	return upload.NewResizing(next, cfg.MaxWidth, logger), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("message wall listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
