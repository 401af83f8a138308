package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the pipeline file looked up when none is given.
const DefaultFile = "stepfile.yaml"

// Parse decodes a pipeline definition from YAML bytes. dir is the directory
// relative workdir paths resolve against.
func Parse(data []byte, dir string) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("pipeline: definition payload is empty")
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	def.dir = dir
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadReader reads a definition from r.
func LoadReader(r io.Reader, dir string) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read definition: %w", err)
	}
	return Parse(content, dir)
}

// LoadFile loads a definition from path.
func LoadFile(path string) (Definition, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	defer f.Close()
	def, parseErr := LoadReader(f, filepath.Dir(abs))
	if parseErr != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, parseErr)
	}
	return def, nil
}
