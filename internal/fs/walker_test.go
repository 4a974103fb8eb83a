package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"soci-backup/internal/fs"
)

func makeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

func relPaths(entries []fs.Entry) []string {
	var rels []string
	for _, e := range entries {
		rels = append(rels, e.RelPath)
	}
	return rels
}

func TestWalker(t *testing.T) {
	t.Run("collects regular files in lexical order", func(t *testing.T) {
		root := t.TempDir()
		makeTree(t, root, map[string]string{
			"b.txt":        "b",
			"a.txt":        "a",
			"docs/one.pdf": "1",
		})

		entries, err := fs.NewWalker(nil, nil, nil).Collect(root)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}

		want := []string{"a.txt", "b.txt", "docs/one.pdf"}
		got := relPaths(entries)
		if len(got) != len(want) {
			t.Fatalf("Collect() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("skips excluded directories without descending", func(t *testing.T) {
		root := t.TempDir()
		makeTree(t, root, map[string]string{
			"keep.txt":         "k",
			"skipme/inner.txt": "i",
		})

		w := fs.NewWalker([]string{filepath.Join(root, "skipme")}, nil, nil)
		entries, err := w.Collect(root)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if got := relPaths(entries); len(got) != 1 || got[0] != "keep.txt" {
			t.Errorf("Collect() = %v, want [keep.txt]", got)
		}
	})

	t.Run("skips excluded files", func(t *testing.T) {
		root := t.TempDir()
		makeTree(t, root, map[string]string{
			"keep.txt": "k",
			"skip.db":  "s",
		})

		w := fs.NewWalker(nil, []string{filepath.Join(root, "skip.db")}, nil)
		entries, err := w.Collect(root)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if got := relPaths(entries); len(got) != 1 || got[0] != "keep.txt" {
			t.Errorf("Collect() = %v, want [keep.txt]", got)
		}
	})

	t.Run("applies exclusion patterns", func(t *testing.T) {
		root := t.TempDir()
		makeTree(t, root, map[string]string{
			"keep.txt":       "k",
			"scratch.tmp":    "s",
			"deep/other.tmp": "o",
			"cache/x.txt":    "x",
		})

		w := fs.NewWalker(nil, nil, []string{"*.tmp", "cache/*"})
		entries, err := w.Collect(root)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if got := relPaths(entries); len(got) != 1 || got[0] != "keep.txt" {
			t.Errorf("Collect() = %v, want [keep.txt]", got)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := fs.NewWalker(nil, nil, nil).Collect(filepath.Join(t.TempDir(), "absent")); err == nil {
			t.Error("Collect() on missing root: expected error")
		}
	})
}

func TestExcludeMatcher(t *testing.T) {
	t.Run("basename patterns", func(t *testing.T) {
		m := fs.NewExcludeMatcher([]string{"*.log"})
		if !m.Match("deep/nested/app.log") {
			t.Error("basename pattern did not match a nested file")
		}
		if m.Match("app.txt") {
			t.Error("basename pattern matched the wrong extension")
		}
	})

	t.Run("path patterns", func(t *testing.T) {
		m := fs.NewExcludeMatcher([]string{"cache/*"})
		if !m.Match("cache/entry") {
			t.Error("path pattern did not match")
		}
		if m.Match("other/cache/entry") {
			t.Error("path pattern matched outside its root")
		}
	})

	t.Run("blank lines and comments are skipped", func(t *testing.T) {
		m := fs.NewExcludeMatcher([]string{"", "  ", "# comment", "*.tmp"})
		if !m.Match("x.tmp") {
			t.Error("real pattern lost among blanks and comments")
		}
		if m.Match("# comment") {
			t.Error("comment line treated as a pattern")
		}
	})

	t.Run("nil matcher matches nothing", func(t *testing.T) {
		var m *fs.ExcludeMatcher
		if m.Match("anything") {
			t.Error("nil matcher matched")
		}
	})
}
