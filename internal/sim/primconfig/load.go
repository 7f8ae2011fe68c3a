package primconfig

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/task_override.schema.json
var overrideSchemaJSON string

const overrideSchemaURL = "https://palbridge.ai/schemas/task_override.schema.json"

var overrideSchema = jsonschema.MustCompileString(overrideSchemaURL, overrideSchemaJSON)

type taskFile struct {
	Overrides `yaml:",inline"`
	Aliases   map[string][]string `yaml:"aliases"`
}

// Load reads <dir>/categories.yaml (optional) and every task override file
// in <dir>/tasks. Task ids are the file names without extension; files
// starting with "_" are templates and skipped.
func Load(dir string) (*Resolver, error) {
	cats := map[string]Overrides{}
	catPath := filepath.Join(dir, "categories.yaml")
	if raw, err := os.ReadFile(catPath); err == nil {
		var m map[string]any
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("categories.yaml: %w", err)
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			tf, err := decodeOverrides(m[name])
			if err != nil {
				return nil, fmt.Errorf("categories.yaml: %s: %w", name, err)
			}
			cats[name] = tf.Overrides
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	tasks := map[string]Overrides{}
	aliases := map[string]map[string][]string{}
	ents, err := os.ReadDir(filepath.Join(dir, "tasks"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, e := range ents {
		if e.IsDir() || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		ext := filepath.Ext(e.Name())
		switch ext {
		case ".yaml", ".yml", ".toml":
		default:
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		tf, err := LoadTaskFile(filepath.Join(dir, "tasks", e.Name()))
		if err != nil {
			return nil, err
		}
		tasks[id] = tf.Overrides
		if len(tf.Aliases) > 0 {
			aliases[id] = tf.Aliases
		}
	}

	r := NewResolver(cats, tasks)
	for id, a := range aliases {
		r.SetAliases(id, a)
	}
	for _, id := range r.Tasks() {
		if err := r.Resolve(id, "").Validate(); err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
	}
	return r, nil
}

// LoadTaskFile parses one YAML or TOML override file.
func LoadTaskFile(path string) (taskFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return taskFile{}, err
	}
	var m map[string]any
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &m); err != nil {
			return taskFile{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return taskFile{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	tf, err := decodeOverrides(m)
	if err != nil {
		return taskFile{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return tf, nil
}

// ValidateDoc checks a generic override document against the schema.
func ValidateDoc(doc any) error {
	norm, err := normalize(doc)
	if err != nil {
		return err
	}
	return overrideSchema.Validate(norm)
}

func decodeOverrides(doc any) (taskFile, error) {
	var tf taskFile
	if doc == nil {
		return tf, nil
	}
	norm, err := normalize(doc)
	if err != nil {
		return tf, err
	}
	if err := overrideSchema.Validate(norm); err != nil {
		return tf, err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "yaml",
		Squash:      true,
		ErrorUnused: true,
		Result:      &tf,
	})
	if err != nil {
		return tf, err
	}
	if err := dec.Decode(norm); err != nil {
		return tf, err
	}
	return tf, nil
}

// normalize turns YAML/TOML decoder output into plain JSON values, which is
// what the schema validator expects.
func normalize(doc any) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
