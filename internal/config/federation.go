package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/perchlabs/perch/internal/logger"
)

// FederationFile lists the backends a hub connects to. Tokens resolve
// per-server first, then default_token, then the hub's own token.
type FederationFile struct {
	DefaultToken string             `yaml:"default_token"`
	Servers      []FederationServer `yaml:"servers"`
}

type FederationServer struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// LoadFederation reads and parses a federation config file.
func LoadFederation(path string) (*FederationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read federation config: %w", err)
	}
	var ff FederationFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse federation config: %w", err)
	}
	for i, s := range ff.Servers {
		if s.Address == "" {
			return nil, fmt.Errorf("federation server %d has no address", i)
		}
	}
	return &ff, nil
}

// WatchFederation reloads the federation file whenever it changes and hands
// the result to apply. Editors typically replace files rather than rewrite
// them in place, so the watch is on the parent directory. Returns when ctx
// is done.
func WatchFederation(ctx context.Context, path string, apply func(*FederationFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	// Coalesce bursts of events from a single save.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("federation config watch error", "error", err)
		case <-reload:
			ff, err := LoadFederation(abs)
			if err != nil {
				logger.Warn("federation config reload failed", "path", abs, "error", err)
				continue
			}
			logger.Info("federation config reloaded", "path", abs, "servers", len(ff.Servers))
			apply(ff)
		}
	}
}
