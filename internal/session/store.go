// Package session persists per-site browser authentication snapshots.
//
// The on-disk shape matches a Playwright storage-state file, so snapshots
// produced by other tooling can be dropped into the sessions directory.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scene-forge/internal/runstore"
)

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

func (s State) Empty() bool {
	return len(s.Cookies) == 0 && len(s.Origins) == 0
}

// Store is keyed by site. Load reports ok=false with a nil error when no
// snapshot exists yet.
type Store interface {
	Load(site string) (State, bool, error)
	Save(site string, state State) error
}

type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: strings.TrimSpace(dir)}
}

func (s *FileStore) Path(site string) (string, error) {
	key, err := validateSite(site)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, key+".json"), nil
}

func (s *FileStore) Load(site string) (State, bool, error) {
	path, err := s.Path(site)
	if err != nil {
		return State{}, false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("stat session %s: %w", path, err)
	}
	var state State
	if err := runstore.ReadJSON(path, &state); err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (s *FileStore) Save(site string, state State) error {
	path, err := s.Path(site)
	if err != nil {
		return err
	}
	if state.Cookies == nil {
		state.Cookies = []Cookie{}
	}
	if state.Origins == nil {
		state.Origins = []Origin{}
	}
	return runstore.WriteJSON(path, state)
}

// Sites lists the site keys with a stored snapshot.
func (s *FileStore) Sites() ([]string, error) {
	return runstore.ListFiles(s.Dir, ".json")
}

// Lock claims the site for one process.
func (s *FileStore) Lock(site, purpose string) (runstore.Lock, error) {
	key, err := validateSite(site)
	if err != nil {
		return runstore.Lock{}, err
	}
	return runstore.AcquireLock(filepath.Join(s.Dir, key+".lock"), purpose)
}

func validateSite(site string) (string, error) {
	key := strings.TrimSpace(site)
	if key == "" {
		return "", errors.New("session site key is required")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid session site key %q", site)
	}
	return key, nil
}
