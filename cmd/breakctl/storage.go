package main

import (
	"cmp"
	"fmt"
	"net/url"
	"strings"

	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/internal/storage/memory"
	pgstorage "github.com/OCAP2/breakage/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/breakage/internal/storage/sqlite"
	wsstorage "github.com/OCAP2/breakage/internal/storage/websocket"
	"github.com/spf13/viper"
)

// initStorage creates and initializes the configured snapshot backend.
func initStorage() (storage.Backend, error) {
	cfg := config.GetStorageConfig()
	backend, err := createStorageBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cmp.Or(cfg.Type, "memory"), err)
	}
	Logger.Info("Storage ready", "type", cmp.Or(cfg.Type, "memory"))
	return backend, nil
}

func createStorageBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(cfg.Memory), nil
	case "postgres":
		return pgstorage.New(pgstorage.Config{}, Logger), nil
	case "sqlite":
		b, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
		}, Logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite storage: %w", err)
		}
		return b, nil
	case "websocket":
		return wsstorage.New(wsstorage.Config{
			URL:    cmp.Or(cfg.WebSocket.URL, httpToWS(viper.GetString("api.serverUrl"))+"/breakage"),
			Secret: cmp.Or(cfg.WebSocket.Secret, viper.GetString("api.apiKey")),
		}, Logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// httpToWS maps an http(s) relay URL to its ws(s) form. Other schemes pass
// through.
func httpToWS(raw string) string {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
