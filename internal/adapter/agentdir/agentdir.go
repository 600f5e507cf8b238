// Package agentdir implements the agent directory from a YAML file that is
// reloaded when it changes on disk.
package agentdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/heyitsaamir/conductor/internal/domain"
	"github.com/heyitsaamir/conductor/internal/domain/agent"
)

// Defaults returns the built-in directory used when no file is configured.
func Defaults() []agent.Agent {
	return []agent.Agent{{
		ID:          "lead-qualification",
		Name:        "Lead Qualification",
		Description: "Qualifies sales leads and researches prospects.",
		URL:         "http://localhost:4000",
	}}
}

type fileFormat struct {
	Agents []agent.Agent `yaml:"agents"`
}

// Directory holds the current agent list. Reads are safe during reloads.
type Directory struct {
	path string

	mu     sync.RWMutex
	agents []agent.Agent
}

// New returns a directory over the built-in agents.
func New() *Directory {
	return &Directory{agents: Defaults()}
}

// Load reads path. A missing file falls back to the built-in agents.
func Load(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) Get(_ context.Context, id string) (agent.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return agent.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
}

func (d *Directory) List(_ context.Context) ([]agent.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.agents), nil
}

// Watch reloads the file on every write until ctx is done. A file that
// fails to parse is logged and the previous list stays in effect.
func (d *Directory) Watch(ctx context.Context) error {
	if d.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent directory watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Watch the directory: editors replace files by rename.
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("watch %s: %w", d.path, err)
	}
	target := filepath.Clean(d.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			if err := d.reload(); err != nil {
				slog.Error("agent directory reload failed", "path", d.path, "error", err)
				continue
			}
			slog.Info("agent directory reloaded", "path", d.path, "agents", d.count())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("agent directory watcher error", "error", err)
		}
	}
}

func (d *Directory) reload() error {
	agents, err := readFile(d.path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.agents = agents
	d.mu.Unlock()
	return nil
}

func (d *Directory) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

func readFile(path string) ([]agent.Agent, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents %s: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("%w: %s lists no agents", domain.ErrValidation, path)
	}
	seen := make(map[string]bool, len(f.Agents))
	for i := range f.Agents {
		a := &f.Agents[i]
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: duplicate agent %s", domain.ErrValidation, a.ID)
		}
		seen[a.ID] = true
	}
	return f.Agents, nil
}
