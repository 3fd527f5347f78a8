package config

import (
	"fmt"
	"strings"
	"sync"

	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
	"cph-engine/internal/template"
)

// Graph is the merged configuration tree plus the runtime overlay. It is
// the sole implementation of C1 (Config Graph): resolve, resolve_template,
// children, register_overlay/clear_overlay.
type Graph struct {
	root    *ConfigNode
	overlay *Overlay

	cacheMu      sync.Mutex
	cache        map[cacheKey]interface{}
	cacheVersion int
}

type cacheKey struct {
	path string
	tag  TypeTag
}

func newGraph(root *ConfigNode) *Graph {
	return &Graph{
		root:    root,
		overlay: newOverlay(),
		cache:   make(map[cacheKey]interface{}),
	}
}

// RegisterOverlay pushes a runtime override active only for this process
// (e.g. the --debug flag raising log verbosity).
func (g *Graph) RegisterOverlay(path string, value interface{}) {
	g.overlay.Push(path, value)
}

// ClearOverlay drops every runtime override. Resolution afterwards is
// bit-identical to before any overlay was ever pushed.
func (g *Graph) ClearOverlay() {
	g.overlay.Clear()
}

// Children returns the ordered child keys under path ("" means root).
func (g *Graph) Children(path string) ([]string, error) {
	node, err := g.walk(path)
	if err != nil {
		return nil, err
	}
	return node.ChildKeys(), nil
}

// Resolve splits path on '.' and walks the tree matching each segment by
// child key or alias, returning the value coerced to tag. The runtime
// overlay is consulted first for an exact path match.
func (g *Graph) Resolve(path string, tag TypeTag) (interface{}, error) {
	g.cacheMu.Lock()
	if g.cacheVersion != g.overlay.version() {
		g.cache = make(map[cacheKey]interface{})
		g.cacheVersion = g.overlay.version()
	}
	key := cacheKey{path: path, tag: tag}
	if v, ok := g.cache[key]; ok {
		g.cacheMu.Unlock()
		return v, nil
	}
	g.cacheMu.Unlock()

	value, err := g.resolveUncached(path, tag)
	if err != nil {
		return nil, err
	}

	g.cacheMu.Lock()
	g.cache[key] = value
	g.cacheMu.Unlock()
	return value, nil
}

func (g *Graph) resolveUncached(path string, tag TypeTag) (interface{}, error) {
	if raw, ok := g.overlay.lookup(path); ok {
		logging.ConfigDebug("resolve %q: satisfied by overlay", path)
		return coerce(raw, tag)
	}

	node, err := g.walk(path)
	if err != nil {
		return nil, err
	}
	if node.Value == nil && len(node.Children) > 0 {
		return nil, errs.New(errs.CodeConfigTypeMismatch, fmt.Sprintf("path %q is a mapping, not a scalar value", path))
	}
	return coerce(node.Value, tag)
}

// walk resolves path against the node tree without consulting the overlay.
func (g *Graph) walk(path string) (*ConfigNode, error) {
	if path == "" {
		return g.root, nil
	}
	node := g.root
	for _, segment := range strings.Split(path, ".") {
		child, err := node.childByKeyOrAlias(segment)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// MatchToken reports whether token names a child (by key or alias) of the
// node at path, preferring the per-language override at
// languages.<language>.<path without a leading "shared."> (e.g.
// languages.python.env_types for shared.env_types) when language is
// non-empty, and
// falling back to path itself (the shared config) otherwise. This
// implements the "per-language config first, shared config fallback"
// alias precedence used by the Argument Parser (C3) for env_type and
// command lookups.
func (g *Graph) MatchToken(path, language, token string) (childKey string, ok bool) {
	if language != "" {
		if langNode, err := g.walk("languages." + language + "." + strings.TrimPrefix(path, "shared.")); err == nil {
			if child, err := langNode.childByKeyOrAlias(token); err == nil {
				return child.Key, true
			}
		}
	}
	node, err := g.walk(path)
	if err != nil {
		return "", false
	}
	child, err := node.childByKeyOrAlias(token)
	if err != nil {
		return "", false
	}
	return child.Key, true
}

// ResolveTemplate resolves s itself from config, then expands any
// remaining {placeholder} tokens against ctx via the Template Expander.
func (g *Graph) ResolveTemplate(path string, ctx map[string]string) (string, error) {
	raw, err := g.Resolve(path, TypeString)
	if err != nil {
		return "", err
	}
	expanded, unresolved, err := template.Expand(raw.(string), ctx, true)
	if err != nil {
		return "", errs.Wrap(errs.CodeConfigUnresolvedTmpl, fmt.Sprintf("path %q: unresolved keys %v", path, unresolved), err)
	}
	return expanded, nil
}
