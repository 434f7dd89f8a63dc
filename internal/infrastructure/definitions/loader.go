// Package definitions loads workflow definitions from YAML files
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// File pairs a parsed definition with the file it came from
type File struct {
	Definition *workflow.Definition
	Path       string
}

// Publisher accepts validated definitions
type Publisher interface {
	Publish(def *workflow.Definition) error
}

// Parse decodes one YAML definition and validates it. Unknown keys are
// rejected so a typo does not silently drop configuration.
func Parse(data []byte) (*workflow.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("definition payload is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return doc.build()
}

// LoadFile reads and parses one definition file
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return File{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, in name order. All
// files are attempted; the returned error joins every failure. A missing
// directory holds no definitions.
func LoadDir(dir string) ([]File, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && isYAML(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var (
		files []File
		errs  []error
	)
	for _, name := range names {
		f, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	return files, errors.Join(errs...)
}

// PublishDir loads dir and publishes each definition, oldest version first
// per workflow. It stops at the first load or publish error.
func PublishDir(dir string, pub Publisher, logger *zap.Logger) (int, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i].Definition, files[j].Definition
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})

	for i, f := range files {
		if err := pub.Publish(f.Definition); err != nil {
			return i, fmt.Errorf("failed to publish %s: %w", f.Path, err)
		}
		logger.Info("Workflow definition published",
			zap.String("workflow", f.Definition.Name),
			zap.Int("version", f.Definition.Version),
			zap.String("path", f.Path))
	}
	return len(files), nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
