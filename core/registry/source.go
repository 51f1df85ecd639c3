package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/schemabase/core/schema"
)

// Source provides entity configurations. The configurations are not
// normalized yet.
type Source interface {
	Load(ctx context.Context) ([]*schema.Entity, error)
}

// ParseConfig parses an entity configuration in JSON or YAML, depending on
// the file extension of name. If the configuration has no entity_name, the
// base name of the file, or of its directory for files named "config", is used.
func ParseConfig(name string, data []byte) (*schema.Entity, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		var document interface{}
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		var err error
		if data, err = json.Marshal(document); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	e, err := schema.ParseEntity(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(e.Name) == 0 {
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		if base == "config" {
			base = filepath.Base(filepath.Dir(name))
		}
		e.Name = base
	}
	return e, nil
}

func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// DirSource loads entity configurations from a directory. Every entity is
// either a file <dir>/<entity>.json (or .yaml) or a directory
// <dir>/<entity>/ containing a config.json (or config.yaml).
type DirSource struct {
	Dir string
	// FS is the file system Dir is in. Default is the operating system's file
	// system, use an embed.FS to compile configurations into a service.
	FS fs.FS
}

// Load implements Source
func (s DirSource) Load(ctx context.Context) ([]*schema.Entity, error) {
	fsys, dir := s.FS, s.Dir
	if fsys == nil {
		fsys, dir = os.DirFS(s.Dir), "."
	}
	if len(dir) == 0 {
		dir = "."
	}
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read config directory: %w", err)
	}
	var entities []*schema.Entity
	for _, file := range files {
		name := path.Join(dir, file.Name())
		if file.IsDir() {
			found := false
			for _, config := range []string{"config.json", "config.yaml", "config.yml"} {
				data, err := fs.ReadFile(fsys, path.Join(name, config))
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				if err != nil {
					return nil, err
				}
				e, err := ParseConfig(path.Join(name, config), data)
				if err != nil {
					return nil, err
				}
				entities = append(entities, e)
				found = true
				break
			}
			if !found {
				return nil, fmt.Errorf("entity directory %s has no config file", path.Join(s.Dir, file.Name()))
			}
			continue
		}
		if !isConfigFile(file.Name()) {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		e, err := ParseConfig(name, data)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// SQLSource loads entity configurations stored as JSON in the registry
// table, under the prefix "entity".
type SQLSource struct {
	Table *Table
}

// ConfigPrefix is the table prefix of entity configurations
const ConfigPrefix = "entity"

// Load implements Source
func (s SQLSource) Load(ctx context.Context) ([]*schema.Entity, error) {
	values, err := s.Table.Accessor(ConfigPrefix).List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var entities []*schema.Entity
	for _, key := range keys {
		e, err := ParseConfig(key+".json", values[key])
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Store stores the configuration of an entity, so that the next Load finds it
func (s SQLSource) Store(ctx context.Context, e *schema.Entity) error {
	return s.Table.Accessor(ConfigPrefix).Write(ctx, e.Name, e)
}

// Remove removes the configuration of entity name
func (s SQLSource) Remove(ctx context.Context, name string) error {
	return s.Table.Accessor(ConfigPrefix).Delete(ctx, name)
}
