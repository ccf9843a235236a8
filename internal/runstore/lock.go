package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const lockOwnerFile = "owner.json"

// Lock is an exclusive claim on a resource, held as a directory on disk.
// mkdir is atomic, so two processes can never both succeed.
type Lock struct {
	lockDir string
}

type LockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
}

func AcquireLock(lockDir, purpose string) (Lock, error) {
	target := strings.TrimSpace(lockDir)
	if target == "" {
		return Lock{}, fmt.Errorf("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Lock{}, fmt.Errorf("create parent for lock %s: %w", target, err)
	}

	if err := os.Mkdir(target, 0o755); err != nil {
		if os.IsExist(err) {
			if owner, readErr := ReadLockOwner(target); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return Lock{}, fmt.Errorf(
					"%s is locked (pid=%d created_at=%s host=%s purpose=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname, owner.Purpose,
				)
			}
			return Lock{}, fmt.Errorf("%s is locked", target)
		}
		return Lock{}, fmt.Errorf("acquire lock %s: %w", target, err)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		Purpose:   strings.TrimSpace(purpose),
	}
	if err := WriteJSON(filepath.Join(target, lockOwnerFile), owner); err != nil {
		_ = os.Remove(target)
		return Lock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}

	return Lock{lockDir: target}, nil
}

func ReadLockOwner(lockDir string) (LockOwner, error) {
	var owner LockOwner
	if err := ReadJSON(filepath.Join(lockDir, lockOwnerFile), &owner); err != nil {
		return LockOwner{}, err
	}
	return owner, nil
}

func (l Lock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
