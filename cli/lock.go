package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked means another run holds the lock.
var ErrLocked = errors.New("another run is in progress")

type runLock struct {
	path string
}

// acquireLock creates path exclusively. The file holds the owner's pid.
func acquireLock(path string) (*runLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		owner, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w (lock %s held by pid %s)", ErrLocked, path, string(owner))
	} else if err != nil {
		return nil, fmt.Errorf("creating lock: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock: %w", err)
	}
	return &runLock{path: path}, nil
}

func (l *runLock) release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock: %w", err)
	}
	return nil
}
