// Package retained keeps the channel-mask triplet across a low-power halt.
package retained

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/brocaar/lorawan/band"

	"github.com/R3DPanda1/LWN-Node/node/channels"
)

var ErrNotFound = errors.New("retained: no masks stored for region")

// Store saves one JSON file per region family in its directory.
type Store struct {
	directory string
	mu        sync.RWMutex
}

func NewStore(directory string) *Store {
	return &Store{directory: directory}
}

func (s *Store) filename(region band.Name) string {
	return filepath.Join(s.directory, fmt.Sprintf("masks-%s.json", region))
}

// Save writes the triplet for region, replacing any previous one.
func (s *Store) Save(region band.Name, t channels.Triplet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.directory, 0755); err != nil {
		return fmt.Errorf("failed to create retained directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal masks: %w", err)
	}

	if err := os.WriteFile(s.filename(region), data, 0644); err != nil {
		return fmt.Errorf("failed to write masks file: %w", err)
	}
	return nil
}

// Load returns ErrNotFound when nothing was saved for region.
func (s *Store) Load(region band.Name) (channels.Triplet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filename(region))
	if errors.Is(err, os.ErrNotExist) {
		return channels.Triplet{}, fmt.Errorf("%w: %s", ErrNotFound, region)
	}
	if err != nil {
		return channels.Triplet{}, fmt.Errorf("failed to read masks file: %w", err)
	}

	var t channels.Triplet
	if err := json.Unmarshal(data, &t); err != nil {
		return channels.Triplet{}, fmt.Errorf("failed to unmarshal masks: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(region band.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filename(region)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete masks file: %w", err)
	}
	return nil
}
