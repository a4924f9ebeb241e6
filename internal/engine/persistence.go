// Package engine implements the in-memory canvas store and its file persistence.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-board/internal/vault"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const (
	canvasDir      = "canvases"
	principalsFile = "principals.json"
)

// Persistence handles the disk I/O for the MemStore: one JSON document per
// canvas plus a single principals document. With a Key set, canvas documents
// are sealed with vault before they touch the disk.
type Persistence struct {
	DataDir string
	Key     []byte
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler. key may be nil.
func NewPersistence(dir string, key []byte) (*Persistence, error) {
	if err := os.MkdirAll(filepath.Join(dir, canvasDir), 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir, Key: key}, nil
}

// SaveCanvas writes a single canvas atomically.
func (p *Persistence) SaveCanvas(canvas *schema.Canvas) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bytes, err := json.MarshalIndent(canvas, "", "  ")
	if err != nil {
		return err
	}
	if p.Key != nil {
		if bytes, err = vault.Seal(bytes, p.Key); err != nil {
			return err
		}
	}
	return writeAtomic(p.canvasPath(canvas.ID), bytes)
}

// DeleteCanvas removes a canvas document. Missing files are not an error.
func (p *Persistence) DeleteCanvas(canvasID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.canvasPath(canvasID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SavePrincipals rewrites the principals document.
func (p *Persistence) SavePrincipals(principals []schema.Principal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bytes, err := json.MarshalIndent(principals, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(p.DataDir, principalsFile), bytes)
}

// LoadAll returns every principal and canvas found in the data directory.
// Unreadable canvas documents are skipped with a warning.
func (p *Persistence) LoadAll() ([]schema.Principal, map[string]*schema.Canvas, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var principals []schema.Principal
	content, err := os.ReadFile(filepath.Join(p.DataDir, principalsFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(content, &principals); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", principalsFile, err)
		}
	case !os.IsNotExist(err):
		return nil, nil, err
	}

	canvases := make(map[string]*schema.Canvas)
	files, err := os.ReadDir(filepath.Join(p.DataDir, canvasDir))
	if err != nil {
		return nil, nil, err
	}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(p.DataDir, canvasDir, file.Name()))
		if err != nil {
			slog.Warn("could not read canvas file", "file", file.Name(), "err", err)
			continue
		}
		if p.Key != nil {
			if content, err = vault.Open(content, p.Key); err != nil {
				slog.Warn("could not open sealed canvas file", "file", file.Name(), "err", err)
				continue
			}
		}
		var canvas schema.Canvas
		if err := json.Unmarshal(content, &canvas); err != nil {
			slog.Warn("could not decode canvas file", "file", file.Name(), "err", err)
			continue
		}
		if canvas.ID == "" {
			canvas.ID = strings.TrimSuffix(file.Name(), ".json")
		}
		canvases[canvas.ID] = &canvas
	}
	return principals, canvases, nil
}

func (p *Persistence) canvasPath(canvasID string) string {
	return filepath.Join(p.DataDir, canvasDir, filepath.Base(canvasID)+".json")
}

// writeAtomic writes to a temporary file and renames it over the target, so a
// crash leaves either the old or the new document, never a torn one.
func writeAtomic(path string, bytes []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
