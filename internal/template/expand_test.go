package template

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpand(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		ctx        map[string]string
		strict     bool
		want       string
		unresolved []string
		wantErr    bool
	}{
		{
			name:  "all resolved",
			input: "{workspace}/contest_current/{source_file_name}",
			ctx:   map[string]string{"workspace": "/w", "source_file_name": "main.py"},
			want:  "/w/contest_current/main.py",
		},
		{
			name:       "unresolved non-strict left verbatim",
			input:      "{workspace}/{missing}",
			ctx:        map[string]string{"workspace": "/w"},
			strict:     false,
			want:       "/w/{missing}",
			unresolved: []string{"missing"},
		},
		{
			name:       "unresolved strict errors",
			input:      "{missing}",
			ctx:        map[string]string{},
			strict:     true,
			unresolved: []string{"missing"},
			wantErr:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, unresolved, err := Expand(tc.input, tc.ctx, tc.strict)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.wantErr && got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			if len(unresolved) != len(tc.unresolved) {
				t.Fatalf("unresolved = %v, want %v", unresolved, tc.unresolved)
			}
		})
	}
}

func TestGlobOrdersLexicographically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	matches, err := Glob(dir, "*.txt")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.txt"),
	}
	if len(matches) != len(want) {
		t.Fatalf("matches = %v, want %v", matches, want)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Fatalf("matches[%d] = %q, want %q", i, matches[i], want[i])
		}
	}
}
