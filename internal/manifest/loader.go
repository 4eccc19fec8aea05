package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultManifestFile is the conventional manifest location inside a project.
const DefaultManifestFile = "artifacts.yaml"

// document is the on-disk manifest shape.
type document struct {
	Version   int            `yaml:"version"`
	LinkStyle LinkStyle      `yaml:"link_style,omitempty"`
	Artifacts []ArtifactSpec `yaml:"artifacts"`
}

// ParseTableYAML decodes a manifest from YAML/JSON bytes. Bytecode paths are
// resolved against dir.
func ParseTableYAML(data []byte, dir string) (*Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("manifest: payload is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if doc.Version > 1 {
		return nil, fmt.Errorf("manifest: unsupported version %d", doc.Version)
	}
	return NewTable(doc.Artifacts, WithDir(dir), WithLinkStyle(doc.LinkStyle))
}

// LoadTableReader reads a manifest from an io.Reader.
func LoadTableReader(r io.Reader, dir string) (*Table, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	return ParseTableYAML(content, dir)
}

// LoadTableFile loads a manifest from disk; bytecode paths are relative to
// the file's directory.
func LoadTableFile(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	table, parseErr := ParseTableYAML(content, filepath.Dir(path))
	if parseErr != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, parseErr)
	}
	return table, nil
}

// BytecodePath returns the absolute location of an artifact's compiled output.
func (t *Table) BytecodePath(spec ArtifactSpec) string {
	if filepath.IsAbs(spec.Bytecode) || t.Dir == "" {
		return filepath.Clean(spec.Bytecode)
	}
	return filepath.Clean(filepath.Join(t.Dir, spec.Bytecode))
}
