// Package storage provides the durable message.Store backends. The backend is
// chosen from the scheme of the configured store URI.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

// Options carries backend settings that are not part of the URI.
type Options struct {
	// Database is the MongoDB database name.
	Database string
	Log      *slog.Logger
}

// Open connects to the store addressed by uri.
//
//	mongodb://host/ or mongodb+srv://...  MongoDB
//	sqlite:///var/lib/wall/messages.db    SQLite file
//	badger:///var/lib/wall/badger         Badger directory
//	memory://                             in-process, lost on restart
func Open(ctx context.Context, uri string, opts Options) (message.Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("store uri is empty")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("store uri %q has no scheme", uri)
	}

	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return OpenMongo(ctx, uri, opts.Database, opts.Log)
	case "sqlite", "sqlite3":
		return OpenSQLite(rest)
	case "badger":
		return OpenBadger(rest, opts.Log)
	case "memory":
		return message.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}
