package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/message-wall/backend/internal/client"
	"github.com/zhouzirui/message-wall/backend/internal/rotation"
	"github.com/zhouzirui/message-wall/backend/internal/service/broadcast"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using system environment: %v", err)
	}

	defaultServer := os.Getenv("PUBLIC_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	mode := flag.String("mode", "", "one of: submit, list, watch, purge")
	server := flag.String("server", defaultServer, "wall base URL")
	text := flag.String("text", "", "submit: message text")
	name := flag.String("name", "walltester", "submit: sender name")
	picture := flag.String("picture", "", "submit: path to an image to attach")
	limit := flag.Int("limit", 0, "list/watch: number of messages to pull (0 = all)")
	rotate := flag.Duration("rotate", 15*time.Second, "watch: rotation interval")
	resync := flag.Duration("resync", 15*time.Second, "watch: resync interval")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	yes := flag.Bool("yes", false, "purge: skip the confirmation")

	flag.Parse()

	c, err := client.New(*server, client.Options{Timeout: *timeout})
	if err != nil {
		log.Fatalf("invalid -server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "submit":
		runSubmit(ctx, c, *text, *name, *picture)
	case "list":
		runList(ctx, c, *limit)
	case "watch":
		runWatch(ctx, c, rotation.Config{RotationInterval: *rotate, ResyncInterval: *resync, Limit: *limit})
	case "purge":
		runPurge(ctx, c, *yes)
	default:
		flag.Usage()
		log.Fatal("choose a mode with -mode=submit|list|watch|purge")
	}
}

func runSubmit(ctx context.Context, c *client.Client, text, name, picturePath string) {
	if text == "" {
		log.Fatal("submit needs -text")
	}

	sub := client.Submission{Text: text, SenderName: name}
	if picturePath != "" {
		data, err := os.ReadFile(picturePath)
		if err != nil {
			log.Fatalf("read picture: %v", err)
		}
		sub.Picture = data
		sub.Filename = filepath.Base(picturePath)
	}

	created, err := c.Submit(ctx, sub)
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}

	log.Printf("message stored: id=%s createdAt=%s", created.ID, created.CreatedAt.Format(time.RFC3339))
	if created.ImageURL != "" {
		log.Printf("picture: %s", created.ImageURL)
	} else if picturePath != "" {
		log.Printf("[WARN] picture was not stored; the server has no working photo storage")
	}
}

func runList(ctx context.Context, c *client.Client, limit int) {
	messages, err := c.Latest(ctx, limit)
	if err != nil {
		log.Fatalf("list failed: %v", err)
	}
	renderTable(os.Stdout, messages)
	fmt.Printf("%d message(s)\n", len(messages))
}

func runWatch(ctx context.Context, c *client.Client, cfg rotation.Config) {
	initial, err := c.Latest(ctx, cfg.Limit)
	if err != nil {
		log.Fatalf("initial pull failed: %v", err)
	}

	events := make(chan broadcast.Event, 16)
	go func() {
		if err := c.Subscribe(ctx, events); err != nil {
			log.Printf("[WARN] realtime updates unavailable, relying on resync: %v", err)
		}
	}()

	engine := rotation.New(initial, newTerminalDisplay(os.Stdout), cfg)
	log.Printf("watching %d message(s); Ctrl+C to stop", len(initial))
	engine.Run(ctx, c, events)
}

func runPurge(ctx context.Context, c *client.Client, yes bool) {
	if !yes {
		fmt.Print("Delete every message on the wall? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			log.Println("aborted")
			return
		}
	}
	if err := c.DeleteAll(ctx); err != nil {
		log.Fatalf("purge failed: %v", err)
	}
	log.Println("wall cleared")
}
