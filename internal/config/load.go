package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"cph-engine/internal/logging"
)

// Layer identifies one of the four merge sources. Later layers override
// earlier ones for identical paths; mappings merge recursively, scalars
// and sequences replace outright.
type Layer int

const (
	LayerSystemDefaults Layer = iota
	LayerShared
	LayerPerLanguage
	// LayerOverlay (the runtime ConfigOverlay) is handled separately by
	// Graph, not merged into the tree.
)

// aliasesKey is the reserved mapping key a config author uses to list the
// alternative names that should resolve to the node they annotate, e.g.:
//
//	languages:
//	  python:
//	    aliases: [py, python3]
const aliasesKey = "aliases"

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(-([^}]*))?\}`)

// Load reads system defaults, shared config, and every per-language config
// file under langDir, merging them in that order into one Graph. Any layer
// file that does not exist is skipped (system defaults must exist).
func Load(defaultsPath, sharedPath, langDir string) (*Graph, error) {
	timer := logging.StartTimer(logging.CategoryConfig, "Load")
	defer timer.Stop()

	root := newNode("", nil)

	if err := mergeFile(root, defaultsPath, true); err != nil {
		return nil, fmt.Errorf("loading system defaults: %w", err)
	}
	if err := mergeFile(root, sharedPath, false); err != nil {
		return nil, fmt.Errorf("loading shared config: %w", err)
	}

	if langDir != "" {
		entries, err := os.ReadDir(langDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading language config dir %q: %w", langDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
				continue
			}
			lang := entry.Name()[:len(entry.Name())-len(".yaml")]
			langNode, err := loadLanguageLayer(filepath.Join(langDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("loading language config %q: %w", entry.Name(), err)
			}
			mergeLanguageOverride(root, lang, langNode)
		}
	}

	logging.ConfigLog("config graph loaded: %d top-level keys", len(root.order))
	return newGraph(root), nil
}

func mergeFile(root *ConfigNode, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			logging.ConfigDebug("config layer not found, skipping: %s", path)
			return nil
		}
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	mergeYAMLMapping(root, doc.Content[0])
	return nil
}

// loadLanguageLayer parses a per-language file into a detached node tree
// (not yet merged), so the caller can nest it under languages.<name>.
func loadLanguageLayer(path string) (*ConfigNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	node := newNode("", nil)
	if len(doc.Content) > 0 {
		mergeYAMLMapping(node, doc.Content[0])
	}
	return node, nil
}

func mergeLanguageOverride(root *ConfigNode, lang string, langNode *ConfigNode) {
	languages, ok := root.Children["languages"]
	if !ok {
		languages = newNode("languages", root)
		root.setChild("languages", languages)
	}
	existing, ok := languages.Children[lang]
	if !ok {
		existing = newNode(lang, languages)
		languages.setChild(lang, existing)
	}
	mergeNode(existing, langNode)
}

// mergeYAMLMapping merges a yaml.Node of kind MappingNode into dst,
// recursing into nested mappings and replacing scalars/sequences.
func mergeYAMLMapping(dst *ConfigNode, mapping *yaml.Node) {
	if mapping.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]
		key := keyNode.Value

		child, exists := dst.Children[key]
		if !exists {
			child = newNode(key, dst)
			dst.setChild(key, child)
		}

		switch valNode.Kind {
		case yaml.MappingNode:
			mergeYAMLMapping(child, valNode)
			if aliases, ok := extractAliases(valNode); ok {
				applyAliases(dst, key, aliases)
			}
		case yaml.SequenceNode:
			var seq []interface{}
			for _, item := range valNode.Content {
				seq = append(seq, decodeScalar(item))
			}
			child.Value = seq
			child.Children = make(map[string]*ConfigNode)
			child.order = nil
		default:
			child.Value = expandEnv(decodeScalar(valNode))
		}
	}
}

// extractAliases reads the reserved "aliases" key out of a mapping node,
// if present, without treating it as an ordinary child (aliases describe
// the *parent's* view of this node, not a nested config value).
func extractAliases(mapping *yaml.Node) ([]string, bool) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == aliasesKey {
			valNode := mapping.Content[i+1]
			if valNode.Kind != yaml.SequenceNode {
				return nil, false
			}
			var out []string
			for _, item := range valNode.Content {
				out = append(out, item.Value)
			}
			return out, true
		}
	}
	return nil, false
}

func applyAliases(parent *ConfigNode, key string, aliases []string) {
	child := parent.Children[key]
	for _, alias := range aliases {
		child.Aliases[alias] = true
	}
	// Drop the reserved "aliases" key itself so it isn't resolvable as a
	// plain config value (it is metadata about the node, not a value).
	delete(child.Children, aliasesKey)
	for i, k := range child.order {
		if k == aliasesKey {
			child.order = append(child.order[:i], child.order[i+1:]...)
			break
		}
	}
}

// mergeNode deep-merges src into dst using the same rules as
// mergeYAMLMapping (mappings merge recursively, scalars/sequences
// replace), used for the per-language override layer.
func mergeNode(dst, src *ConfigNode) {
	if len(src.Children) == 0 {
		dst.Value = src.Value
		return
	}
	for _, key := range src.order {
		schild := src.Children[key]
		dchild, ok := dst.Children[key]
		if !ok {
			dchild = newNode(key, dst)
			dst.setChild(key, dchild)
		}
		for alias := range schild.Aliases {
			dchild.Aliases[alias] = true
		}
		mergeNode(dchild, schild)
	}
}

func decodeScalar(n *yaml.Node) interface{} {
	var v interface{}
	_ = n.Decode(&v)
	return v
}

// expandEnv resolves ${VAR-default} tokens in string values from the
// process environment.
func expandEnv(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name := groups[1]
		def := groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}
