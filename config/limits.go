package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Bounds on configuration input. A node config is a handful of shallow
// tables; anything far beyond that is rejected before decoding.
const (
	maxConfigFileSize = 1 << 20
	maxOptionsDocSize = 64 << 10
	maxNesting        = 32
	maxYAMLAliases    = 64
	maxEnvValueLen    = 4096
)

// format is a configuration file encoding, chosen by extension.
type format int

const (
	formatUnknown format = iota
	formatJSON
	formatYAML
	formatTOML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatUnknown
	}
}

func (f format) String() string {
	switch f {
	case formatJSON:
		return "JSON"
	case formatYAML:
		return "YAML"
	case formatTOML:
		return "TOML"
	default:
		return "unknown"
	}
}

// readConfigFile reads a regular file of at most maxConfigFileSize bytes.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}
	data, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxConfigFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", filepath.Base(path), maxConfigFileSize)
	}
	return data, nil
}

// writeConfigFile writes data readable by the owner only.
func writeConfigFile(path string, data []byte) error {
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("encoded config exceeds %d bytes", maxConfigFileSize)
	}
	return os.WriteFile(path, data, 0o600)
}

// checkEnvValue rejects override values no field could hold.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValueLen {
		return fmt.Errorf("%s exceeds %d bytes", key, maxEnvValueLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}

// checkStructure rejects documents nested deeper than maxNesting, and YAML
// documents with more than maxYAMLAliases aliases.
func checkStructure(f format, data []byte) error {
	var (
		depth int
		err   error
	)
	switch f {
	case formatJSON:
		depth, err = jsonDepth(data)
	case formatYAML:
		depth, err = yamlDepth(data)
	case formatTOML:
		var doc map[string]any
		if err = toml.Unmarshal(data, &doc); err == nil {
			depth = valueDepth(doc)
		}
	default:
		return fmt.Errorf("no structure check for %s", f)
	}
	if err != nil {
		return err
	}
	if depth > maxNesting {
		return fmt.Errorf("%s nesting depth %d exceeds %d", f, depth, maxNesting)
	}
	return nil
}

// jsonDepth walks the token stream and stops as soon as the limit is passed.
func jsonDepth(data []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth, deepest := 0, 0
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			return deepest, nil
		}
		if err != nil {
			return 0, err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			deepest = max(deepest, depth)
			if depth > maxNesting {
				return depth, nil
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

func yamlDepth(data []byte) (int, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return 0, err
	}
	aliases := 0
	var walk func(n *yaml.Node) int
	walk = func(n *yaml.Node) int {
		if n.Kind == yaml.AliasNode {
			aliases++
			return 0
		}
		deepest := 0
		for _, child := range n.Content {
			deepest = max(deepest, walk(child))
		}
		if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
			deepest++
		}
		return deepest
	}
	depth := walk(&root)
	if aliases > maxYAMLAliases {
		return 0, fmt.Errorf("YAML document has %d aliases, limit is %d", aliases, maxYAMLAliases)
	}
	return depth, nil
}

// valueDepth measures a generically decoded document.
func valueDepth(v any) int {
	deepest := 0
	switch v := v.(type) {
	case map[string]any:
		for _, child := range v {
			deepest = max(deepest, valueDepth(child))
		}
	case []any:
		for _, child := range v {
			deepest = max(deepest, valueDepth(child))
		}
	case []map[string]any:
		for _, child := range v {
			deepest = max(deepest, valueDepth(child))
		}
	default:
		return 0
	}
	return deepest + 1
}
