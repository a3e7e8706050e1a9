package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile guards against concurrent daemon instances via a pid file
type PIDFile struct {
	path string
	pid  int
}

// New creates a PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Path returns the pid file path
func (p *PIDFile) Path() string { return p.path }

// CheckRunning reports whether another live instance owns the pid file.
// A stale file (dead process) reports not running alongside the stale pid.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existing, err := p.read()
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	return processAlive(existing), existing, nil
}

// Create writes the pid file, replacing a stale one. Fails if a live
// instance holds it.
func (p *PIDFile) Create() error {
	if existing, err := p.read(); err == nil {
		if processAlive(existing) {
			return fmt.Errorf("daemon already running with pid %d", existing)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Remove deletes the pid file if this process owns it
func (p *PIDFile) Remove() error {
	existing, err := p.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("pid file owned by pid %d, not removing", existing)
	}
	return os.Remove(p.path)
}

// ForceRemove deletes the pid file regardless of ownership
func (p *PIDFile) ForceRemove() error {
	return os.Remove(p.path)
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in file: %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive uses signal 0 to probe for the process without touching it
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means it exists but belongs to someone else
	return err == syscall.EPERM
}
