// Package config implements the Layered Configuration Resolver: a tree of
// keyed ConfigNode values merged from system defaults, shared config,
// per-language config, and a runtime overlay, with alias-aware dotted-path
// resolution and a memoized resolution cache.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"cph-engine/internal/errs"
)

// TypeTag names the Go type a resolved value is coerced to.
type TypeTag int

const (
	TypeString TypeTag = iota
	TypeInt
	TypeBool
	TypeStringSlice
	TypeRaw // no coercion, returns the underlying value as-is
)

// ConfigNode is a tree node of the merged configuration graph. Every
// non-root node has exactly one parent; mutation happens only during load
// and overlay application, never during resolution (see Graph.Resolve).
// Sibling alias sets are not checked for overlap when layers are merged;
// an alias carried by two siblings makes resolution of that segment fail
// with AmbiguousAlias.
type ConfigNode struct {
	Key      string
	Value    interface{} // scalar, []interface{}, or nil when it has Children
	Children map[string]*ConfigNode
	order    []string // insertion order of Children keys
	Aliases  map[string]bool
	Parent   *ConfigNode
}

func newNode(key string, parent *ConfigNode) *ConfigNode {
	return &ConfigNode{
		Key:      key,
		Children: make(map[string]*ConfigNode),
		Aliases:  make(map[string]bool),
		Parent:   parent,
	}
}

// childByKeyOrAlias finds the child matching segment, preferring an exact
// key match over an alias match. Returns AmbiguousAlias if two distinct
// children both list segment as an alias; alias sets are not checked for
// overlap when the tree is merged, so such an overlap surfaces here.
func (n *ConfigNode) childByKeyOrAlias(segment string) (*ConfigNode, error) {
	if child, ok := n.Children[segment]; ok {
		return child, nil
	}

	var match *ConfigNode
	for _, key := range n.order {
		child := n.Children[key]
		if child.Aliases[segment] {
			if match != nil && match != child {
				return nil, errs.New(errs.CodeConfigAmbiguousAlias,
					fmt.Sprintf("alias %q matches both %q and %q under %q", segment, match.Key, child.Key, n.Key))
			}
			match = child
		}
	}
	if match == nil {
		return nil, errs.New(errs.CodeConfigNotFound, fmt.Sprintf("no child %q under %q", segment, n.Key))
	}
	return match, nil
}

// setChild inserts or replaces a child, preserving insertion order.
func (n *ConfigNode) setChild(key string, child *ConfigNode) {
	if _, exists := n.Children[key]; !exists {
		n.order = append(n.order, key)
	}
	n.Children[key] = child
}

// ChildKeys returns the ordered child keys under this node.
func (n *ConfigNode) ChildKeys() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

func coerce(value interface{}, tag TypeTag) (interface{}, error) {
	if tag == TypeRaw {
		return value, nil
	}
	switch tag {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return i, nil
			}
		}
	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
	case TypeStringSlice:
		switch v := value.(type) {
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, errs.New(errs.CodeConfigTypeMismatch, fmt.Sprintf("sequence element %v is not a string", item))
				}
				out = append(out, s)
			}
			return out, nil
		case []string:
			return v, nil
		}
	}
	return nil, errs.New(errs.CodeConfigTypeMismatch, fmt.Sprintf("value %v cannot be coerced to tag %d", value, tag))
}
