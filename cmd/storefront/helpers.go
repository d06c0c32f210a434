package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

const defaultListen = "127.0.0.1:8787"

// newLogger builds the process logger from the [log] section.
func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(valueOrDefault(cfg.Log.Level, "info")); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(cfg.Log.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// workerConfig turns the CLI settings into a validated worker config.
func workerConfig(cfg *Config) (storefront.Config, error) {
	if cfg.Worker.Origin == "" {
		return storefront.Config{}, fmt.Errorf("no origin configured; run 'storefront init <origin>' first")
	}
	wc := storefront.DefaultConfig()
	wc.Origin = cfg.Worker.Origin
	if cfg.Worker.OfflineDocument != "" {
		wc.OfflineDocument = cfg.Worker.OfflineDocument
	}
	if cfg.Worker.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.Worker.FlushInterval)
		if err != nil {
			return storefront.Config{}, fmt.Errorf("worker.flush_interval: %w", err)
		}
		wc.FlushInterval = d
	}
	return wc.Validate()
}

// dataDir returns the storage directory, creating it if needed.
func dataDir(cfg *Config) (string, error) {
	dir := cfg.Storage.Dir
	if dir == "" {
		base, err := configDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "data")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create data directory: %w", err)
	}
	return dir, nil
}

// openStore opens the pending-action store.
func openStore(cfg *Config) (*storefront.SQLiteStore, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, err
	}
	return storefront.NewSQLiteStore(filepath.Join(dir, "pending.db"))
}

// openCacheStorage opens the partition storage selected by storage.cache.
func openCacheStorage(cfg *Config) (storefront.CacheStorage, error) {
	if cfg.Storage.Cache == "memory" {
		return storefront.NewMemoryCacheStorage(), nil
	}
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, err
	}
	return storefront.OpenLevelDBCacheStorage(filepath.Join(dir, "cache"))
}

// openWorker builds a worker over the configured storage.
func openWorker(cfg *Config, log logrus.FieldLogger, metrics *storefront.Metrics) (*storefront.Worker, error) {
	wc, err := workerConfig(cfg)
	if err != nil {
		return nil, err
	}
	storage, err := openCacheStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		storage.Close()
		return nil, err
	}

	var clientOpts []storefront.ClientOption
	if cfg.Worker.APIKey != "" {
		clientOpts = append(clientOpts, storefront.WithAPIKey(cfg.Worker.APIKey))
	}

	w, err := storefront.NewWorker(wc,
		storefront.WithCacheStorage(storage),
		storefront.WithStore(store),
		storefront.WithFetcher(storefront.NewClient(wc.Origin, clientOpts...)),
		storefront.WithLogger(log),
		storefront.WithMetrics(metrics),
	)
	if err != nil {
		store.Close()
		storage.Close()
		return nil, err
	}
	return w, nil
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
