// Package config provides a flat, dotted-path configuration container
// attached to every server.Server, generalized from the YAML-backed
// lookup table in original_source/sources/config.cc (Config::LookupBase,
// Config::LoadFromYaml): values are addressed by a flattened dotted key
// ("a.b.c") rather than nested maps, and re-loading a file only updates
// keys present in it.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a concurrency-safe dotted-key/value store.
type Config struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty Config.
func New() *Config {
	return &Config{data: make(map[string]string)}
}

// LoadFile parses a YAML file and merges its flattened keys in.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "config: read file")
	}
	return c.LoadString(string(b))
}

// LoadString parses YAML text and merges its flattened keys in.
func (c *Config) LoadString(text string) error {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return errors.Wrap(err, "config: parse yaml")
	}
	flat := make(map[string]string)
	if len(root.Content) > 0 {
		flatten("", root.Content[0], flat)
	}
	c.mu.Lock()
	for k, v := range flat {
		c.data[strings.ToLower(k)] = v
	}
	c.mu.Unlock()
	return nil
}

func flatten(prefix string, node *yaml.Node, out map[string]string) {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			flatten(full, node.Content[i+1], out)
		}
	case yaml.ScalarNode:
		if prefix != "" {
			out[prefix] = node.Value
		}
	default:
		var sb strings.Builder
		enc := yaml.NewEncoder(&sb)
		_ = enc.Encode(node)
		_ = enc.Close()
		if prefix != "" {
			out[prefix] = strings.TrimSpace(sb.String())
		}
	}
}

// Get returns the raw string value for key, and whether it was set.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[strings.ToLower(key)]
	return v, ok
}

// GetDefault returns the value for key, or def if unset.
func (c *Config) GetDefault(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// GetInt returns the value for key parsed as int64, or def on any failure.
func (c *Config) GetInt(key string, def int64) int64 {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns the value for key parsed as float64, or def on any failure.
func (c *Config) GetFloat(key string, def float64) float64 {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool returns the value for key parsed as bool, or def on any failure.
func (c *Config) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Set assigns key to value directly, bypassing file loading.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	c.data[strings.ToLower(key)] = value
	c.mu.Unlock()
}

// Visit calls fn for every key/value pair currently held.
func (c *Config) Visit(fn func(key, value string)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.data {
		fn(k, v)
	}
}
