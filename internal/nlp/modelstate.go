package nlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFileName  = ".model_init.lock"
	stateFileName = ".model_state.json"

	// A lock older than this is considered stale even if we cannot tell
	// whether its owner is alive.
	lockStaleAfter = 5 * time.Minute
)

// ModelState records which model artifacts finished downloading, so sibling
// processes can skip the bootstrap entirely.
type ModelState struct {
	SpacyInitialized       bool      `json:"spacy_initialized"`
	TransformerInitialized bool      `json:"transformer_initialized"`
	Timestamp              time.Time `json:"timestamp"`
}

// ErrLockHeld is returned when another live process holds the bootstrap lock.
var ErrLockHeld = errors.New("nlp: model bootstrap lock held by another process")

// BootstrapLock is a cross-process file lock guarding model downloads. The
// holder's PID is written into the lock file so stale locks (dead holder or
// past the staleness window) are reclaimable.
type BootstrapLock struct {
	path string
}

// AcquireBootstrapLock takes the lock in cacheDir, reclaiming stale locks.
func AcquireBootstrapLock(cacheDir string) (*BootstrapLock, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nlp cache dir: %w", err)
	}
	path := filepath.Join(cacheDir, lockFileName)

	reclaimStaleLock(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &BootstrapLock{path: path}, nil
}

// reclaimStaleLock removes the lock file when its holder is gone or it has
// outlived the staleness window. Errors inspecting the file count as stale.
func reclaimStaleLock(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return // no lock to reclaim
	}
	if time.Since(info.ModTime()) > lockStaleAfter {
		os.Remove(path)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		os.Remove(path)
		return
	}
	// Signal 0 probes for process existence.
	if err := syscall.Kill(pid, 0); err != nil {
		os.Remove(path)
	}
}

// Release drops the lock.
func (l *BootstrapLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock file: %w", err)
	}
	return nil
}

// SaveState writes the model state file.
func SaveState(cacheDir string, state ModelState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, stateFileName), raw, 0o644)
}

// LoadState reads the model state file. A missing file is a zero state, not
// an error.
func LoadState(cacheDir string) (ModelState, error) {
	raw, err := os.ReadFile(filepath.Join(cacheDir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return ModelState{}, nil
		}
		return ModelState{}, err
	}
	var state ModelState
	if err := json.Unmarshal(raw, &state); err != nil {
		return ModelState{}, fmt.Errorf("parse model state: %w", err)
	}
	return state, nil
}
