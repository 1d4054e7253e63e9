package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRootExpandsHomeAndCreatesDirectory(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	root, err := ResolveRoot("~/grip-workspace")
	if err != nil {
		t.Fatalf("ResolveRoot error: %v", err)
	}

	want, err := filepath.EvalSymlinks(filepath.Join(homeDir, "grip-workspace"))
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if root != want {
		t.Fatalf("ResolveRoot root = %q, want %q", root, want)
	}

	if info, statErr := os.Stat(root); statErr != nil || !info.IsDir() {
		t.Fatalf("workspace directory missing: %v", statErr)
	}
}

func TestWorkspaceLayout(t *testing.T) {
	ws, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	if got := ws.CronDir(); got != filepath.Join(ws.Root(), "cron") {
		t.Fatalf("CronDir = %q", got)
	}
	if got := ws.HeartbeatFile(); filepath.Base(got) != HeartbeatFileName {
		t.Fatalf("HeartbeatFile = %q", got)
	}
}

func TestResolvePathRejectsEmpty(t *testing.T) {
	_, err := ResolvePath("  ")
	if CategoryFromError(err) != ErrorInvalidPath {
		t.Fatalf("error category = %q, want %q", CategoryFromError(err), ErrorInvalidPath)
	}
}

func TestResolvePathExpandsHome(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	resolved, err := ResolvePath("~/projects/site")
	if err != nil {
		t.Fatalf("ResolvePath error: %v", err)
	}

	realHome, err := filepath.EvalSymlinks(homeDir)
	if err != nil {
		t.Fatalf("EvalSymlinks error: %v", err)
	}
	if want := filepath.Join(realHome, "projects", "site"); resolved != want {
		t.Fatalf("ResolvePath = %q, want %q", resolved, want)
	}
}

func TestResolvePathFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	resolved, err := ResolvePath(link)
	if err != nil {
		t.Fatalf("ResolvePath error: %v", err)
	}

	want, _ := filepath.EvalSymlinks(target)
	if resolved != want {
		t.Fatalf("ResolvePath = %q, want %q", resolved, want)
	}
}

func TestIsWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "data")

	cases := map[string]bool{
		root:                              true,
		filepath.Join(root, "a", "b.txt"): true,
		filepath.Join(root, "..", "etc"):  false,
		filepath.Join(root+"-other", "x"): false,
	}
	for target, want := range cases {
		if got := IsWithin(root, target); got != want {
			t.Fatalf("IsWithin(%q, %q) = %v, want %v", root, target, got, want)
		}
	}
}

func TestFromOSCategorizesNotFound(t *testing.T) {
	_, statErr := os.Stat(filepath.Join(t.TempDir(), "missing"))

	err := FromOS(statErr, "stat")
	if CategoryFromError(err) != ErrorPathNotFound {
		t.Fatalf("category = %q, want %q", CategoryFromError(err), ErrorPathNotFound)
	}
	if err.Error() != "path_not_found: path does not exist" {
		t.Fatalf("error text = %q", err.Error())
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("expected os cause to stay reachable")
	}
	if FromOS(nil, "stat") != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "two" {
		t.Fatalf("content = %q, want two", content)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
