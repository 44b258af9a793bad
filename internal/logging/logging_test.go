package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/claworc/terminal-server/internal/config"
)

func withLogFile(t *testing.T, lines int) string {
	t.Helper()
	orig := config.Cfg.LogPath
	t.Cleanup(func() { config.Cfg.LogPath = orig })

	p := filepath.Join(t.TempDir(), "terminals.log")
	config.Cfg.LogPath = p
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(p, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return p
}

func TestReadTail(t *testing.T) {
	withLogFile(t, 10)

	got, err := ReadTail(3)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	want := []string{"line 8", "line 9", "line 10"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReadTailFewerLines(t *testing.T) {
	withLogFile(t, 2)

	got, err := ReadTail(5)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if len(got) != 2 || got[0] != "line 1" || got[1] != "line 2" {
		t.Errorf("unexpected lines %v", got)
	}
}

func TestReadTailMissingFile(t *testing.T) {
	orig := config.Cfg.LogPath
	t.Cleanup(func() { config.Cfg.LogPath = orig })
	config.Cfg.LogPath = filepath.Join(t.TempDir(), "absent.log")

	got, err := ReadTail(5)
	if err != nil || len(got) != 0 {
		t.Errorf("expected no lines and no error, got %v %v", got, err)
	}
}

func TestClearByPath(t *testing.T) {
	p := withLogFile(t, 4)

	if err := Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty log file, got %d bytes", info.Size())
	}
}
