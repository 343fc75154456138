package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/stepflow/internal/action"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/builder"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// Origin tells where a workflow entry comes from.
type Origin string

const (
	OriginPreset     Origin = "preset"
	OriginDefinition Origin = "definition"
)

// Entry is one selectable workflow.
type Entry struct {
	ID          string
	Title       string
	Description string
	Origin      Origin
	// Dir is the definitions directory for OriginDefinition entries.
	Dir string
}

// Source resolves workflow names against the built-in presets and the
// definitions found in Dirs, either YAML files or Go scripts exposing
// WorkflowDefinitions(). Definitions shadow presets with the same id.
type Source struct {
	Dirs     []string
	Registry *action.Registry
}

// Entries lists presets followed by definitions, each group sorted by id.
func (s Source) Entries() ([]Entry, error) {
	defs, err := s.definitions()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, p := range Presets() {
		if _, shadowed := defs[p.Name]; shadowed {
			continue
		}
		out = append(out, Entry{ID: p.Name, Title: p.Title, Description: p.Description, Origin: OriginPreset})
	}
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := defs[id]
		out = append(out, Entry{ID: id, Title: d.def.Title(), Description: d.def.Description, Origin: OriginDefinition, Dir: d.dir})
	}
	return out, nil
}

// Open builds an engine for name. name may be a path to a definition file,
// the id of a definition in Dirs, or a preset name.
func (s Source) Open(name string, opts ...engine.Option) (*engine.Engine, error) {
	name = strings.TrimSpace(name)
	if isDefinitionFile(name) {
		def, err := workflow.LoadDefinitionFile(name)
		if err != nil {
			return nil, err
		}
		return builder.FromDefinition(def, s.Registry, opts...)
	}
	defs, err := s.definitions()
	if err != nil {
		return nil, err
	}
	if d, ok := defs[name]; ok {
		return builder.FromDefinition(d.def, s.Registry, opts...)
	}
	return New(name, opts...)
}

// Definition returns the YAML definition name resolves to. Presets report
// false.
func (s Source) Definition(name string) (workflow.WorkflowDefinition, bool, error) {
	name = strings.TrimSpace(name)
	if isDefinitionFile(name) {
		def, err := workflow.LoadDefinitionFile(name)
		return def, err == nil, err
	}
	defs, err := s.definitions()
	if err != nil {
		return workflow.WorkflowDefinition{}, false, err
	}
	d, ok := defs[name]
	return d.def, ok, nil
}

type located struct {
	def workflow.WorkflowDefinition
	dir string
}

func (s Source) definitions() (map[string]located, error) {
	out := map[string]located{}
	for _, dir := range s.Dirs {
		defs, err := workflow.LoadDefinitionDir(dir)
		if err != nil {
			return nil, err
		}
		scripted, err := workflow.LoadGoDefinitionDir(dir)
		if err != nil {
			return nil, err
		}
		for _, def := range append(defs, scripted...) {
			if prev, dup := out[def.ID]; dup {
				return nil, fmt.Errorf("catalog: workflow %s defined twice (%s, %s)", def.ID, prev.dir, dir)
			}
			out[def.ID] = located{def: def, dir: dir}
		}
	}
	return out, nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
	default:
		return false
	}
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}
