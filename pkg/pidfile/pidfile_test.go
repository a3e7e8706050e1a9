package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// stalePid is far above any default pid_max, so no live process holds it
const stalePid = 99999999

func newTestPidfile(t *testing.T) *PIDFile {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "run", "daemon.pid"))
}

func TestCheckRunningNoFile(t *testing.T) {
	p := newTestPidfile(t)
	running, pid, err := p.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning: %v", err)
	}
	if running || pid != 0 {
		t.Errorf("Expected (false, 0), got (%v, %d)", running, pid)
	}
}

func TestCreateAndCheckRunning(t *testing.T) {
	p := newTestPidfile(t)
	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := os.ReadFile(p.Path())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	written, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || written != os.Getpid() {
		t.Errorf("Expected pid file to hold %d, got %q", os.Getpid(), data)
	}

	running, pid, err := p.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("Expected (true, %d), got (%v, %d)", os.Getpid(), running, pid)
	}
}

func TestCreateReplacesStaleFile(t *testing.T) {
	p := newTestPidfile(t)
	if err := os.MkdirAll(filepath.Dir(p.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Path(), []byte(strconv.Itoa(stalePid)), 0o644); err != nil {
		t.Fatal(err)
	}

	running, pid, err := p.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning: %v", err)
	}
	if running {
		t.Errorf("Expected stale pid %d to report not running", pid)
	}

	if err := p.Create(); err != nil {
		t.Fatalf("Create over stale file: %v", err)
	}
	running, pid, err = p.CheckRunning()
	if err != nil {
		t.Fatalf("CheckRunning: %v", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("Expected own pid after takeover, got (%v, %d)", running, pid)
	}
}

func TestCreateRefusedWhileInstanceAlive(t *testing.T) {
	p := newTestPidfile(t)
	if err := os.MkdirAll(filepath.Dir(p.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	// pid 1 is always alive
	if err := os.WriteFile(p.Path(), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.Create(); err == nil {
		t.Error("Expected Create to refuse while another instance is alive")
	}
}

func TestRemove(t *testing.T) {
	t.Run("OwnFile", func(t *testing.T) {
		p := newTestPidfile(t)
		if err := p.Create(); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := p.Remove(); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
			t.Error("Expected pid file to be gone")
		}
	})

	t.Run("MissingFileIsNotAnError", func(t *testing.T) {
		p := newTestPidfile(t)
		if err := p.Remove(); err != nil {
			t.Errorf("Remove without file: %v", err)
		}
	})

	t.Run("ForeignFileRefused", func(t *testing.T) {
		p := newTestPidfile(t)
		if err := os.MkdirAll(filepath.Dir(p.Path()), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p.Path(), []byte("1"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := p.Remove(); err == nil {
			t.Error("Expected Remove to refuse a foreign pid file")
		}
		if _, err := os.Stat(p.Path()); err != nil {
			t.Error("Expected foreign pid file to survive")
		}
	})
}

func TestForceRemove(t *testing.T) {
	p := newTestPidfile(t)
	if err := os.MkdirAll(filepath.Dir(p.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Path(), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.ForceRemove(); err != nil {
		t.Fatalf("ForceRemove: %v", err)
	}
	if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
		t.Error("Expected pid file to be gone")
	}
}
