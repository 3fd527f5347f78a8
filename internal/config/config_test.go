package config

import (
	"os"
	"path/filepath"
	"testing"

	"cph-engine/internal/errs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func testGraph(t *testing.T) *Graph {
	t.Helper()
	dir := t.TempDir()
	defaults := filepath.Join(dir, "defaults.yaml")
	shared := filepath.Join(dir, "shared.yaml")
	langDir := filepath.Join(dir, "languages")

	writeFile(t, defaults, `
paths:
  workspace: "."
commands:
  test:
    aliases: [t]
shared:
  env_types:
    local:
      aliases: [l]
    container:
      aliases: [c]
`)
	writeFile(t, shared, `
languages:
  python:
    aliases: [py]
    run_command: "python3 {source_file_name}"
`)
	writeFile(t, langDir+"/python.yaml", `
timeout: 10
`)

	g, err := Load(defaults, shared, langDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return g
}

func TestResolveExactAndAlias(t *testing.T) {
	g := testGraph(t)

	v, err := g.Resolve("languages.python.run_command", TypeString)
	if err != nil {
		t.Fatalf("resolve exact: %v", err)
	}
	if v != "python3 {source_file_name}" {
		t.Fatalf("got %v", v)
	}

	// Alias reflexivity: resolving via "py" equals resolving via "python".
	v2, err := g.Resolve("languages.py.run_command", TypeString)
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if v2 != v {
		t.Fatalf("alias resolution diverged: %v != %v", v2, v)
	}
}

func TestResolveNotFound(t *testing.T) {
	g := testGraph(t)
	_, err := g.Resolve("languages.rust.run_command", TypeString)
	if err == nil {
		t.Fatalf("expected error")
	}
	code, ok := errs.CodeOf(err)
	if !ok || code != errs.CodeConfigNotFound {
		t.Fatalf("expected CONFIG_NOT_FOUND, got %v", err)
	}
}

func TestLanguageLayerMergesUnderLanguages(t *testing.T) {
	g := testGraph(t)
	v, err := g.Resolve("languages.python.timeout", TypeInt)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v != 10 {
		t.Fatalf("got %v", v)
	}
}

func TestOverlayPurity(t *testing.T) {
	g := testGraph(t)

	before, err := g.Resolve("languages.python.run_command", TypeString)
	if err != nil {
		t.Fatalf("resolve before overlay: %v", err)
	}

	g.RegisterOverlay("languages.python.run_command", "pypy3 {source_file_name}")
	overridden, err := g.Resolve("languages.python.run_command", TypeString)
	if err != nil {
		t.Fatalf("resolve with overlay: %v", err)
	}
	if overridden == before {
		t.Fatalf("expected overlay to change resolution")
	}

	g.ClearOverlay()
	after, err := g.Resolve("languages.python.run_command", TypeString)
	if err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	if after != before {
		t.Fatalf("overlay clear did not restore original value: %v != %v", after, before)
	}
}

func TestChildrenOrderPreserved(t *testing.T) {
	g := testGraph(t)
	keys, err := g.Children("paths")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(keys) != 1 || keys[0] != "workspace" {
		t.Fatalf("got %v", keys)
	}
}
