// Package fixture loads a demo model catalog and network description
// from YAML, for the CLI and integration tests. It is explicitly not a
// configuration DSL: no expressions, includes, or templating, just a
// flat descriptor list. Read the bytes, unmarshal with gopkg.in/yaml.v3,
// transform into the in-memory model the rest of the pipeline consumes.
package fixture

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/orochestra/pkg/catalog"
	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
)

// portYAML is one port entry on a model descriptor.
type portYAML struct {
	Name      string `yaml:"name"`
	Direction string `yaml:"direction"`
	Type      string `yaml:"type"`
}

// argumentYAML is one argument entry on a model descriptor.
type argumentYAML struct {
	Name     string      `yaml:"name"`
	Default  interface{} `yaml:"default"`
	Required bool        `yaml:"required"`
}

// fulfillYAML declares that the enclosing model satisfies a named
// supertype, optionally renaming ports.
type fulfillYAML struct {
	Model   string            `yaml:"model"`
	PortMap map[string]string `yaml:"port_map"`
}

// childYAML is one composition child slot.
type childYAML struct {
	Name     string   `yaml:"name"`
	Models   []string `yaml:"models"`
	Optional bool     `yaml:"optional"`
}

// connectionYAML is an explicit composition-internal wiring.
type connectionYAML struct {
	FromChild string `yaml:"from_child"`
	FromPort  string `yaml:"from_port"`
	ToChild   string `yaml:"to_child"`
	ToPort    string `yaml:"to_port"`
	Policy    string `yaml:"policy"`
}

// exportYAML forwards a child's port to the composition's own boundary.
type exportYAML struct {
	Port      string `yaml:"port"`
	Direction string `yaml:"direction"`
	Type      string `yaml:"type"`
	Child     string `yaml:"child"`
	ChildPort string `yaml:"child_port"`
}

// specializationYAML maps a concrete set of child selections to a more
// specific composition model, by name, looked up after every model in
// the descriptor set has been registered.
type specializationYAML struct {
	Selections  map[string]string `yaml:"selections"`
	Specialized string            `yaml:"specialized"`
}

// slotYAML is one deployed-task slot within a deployment descriptor.
type slotYAML struct {
	Name      string `yaml:"name"`
	TaskModel string `yaml:"task_model"`
}

// modelYAML is one entry in a catalog descriptor file.
type modelYAML struct {
	Kind      string         `yaml:"kind"`
	Name      string         `yaml:"name"`
	Ports     []portYAML     `yaml:"ports"`
	Arguments []argumentYAML `yaml:"arguments"`
	Fulfills  []fulfillYAML  `yaml:"fulfills"`

	Children        []childYAML          `yaml:"children"`
	Connections     []connectionYAML     `yaml:"connections"`
	Exports         []exportYAML         `yaml:"exports"`
	Specializations []specializationYAML `yaml:"specializations"`

	Slots []slotYAML `yaml:"slots"`
}

// catalogYAML is the top-level shape of a catalog descriptor file: a
// flat list of models, leaves-first order not required since loading is
// two-pass (stub every model by name, then fill each one in).
type catalogYAML struct {
	Models []modelYAML `yaml:"models"`
}

// LoadCatalog reads a catalog descriptor file and returns a populated
// catalog.Catalog. Loading is two-pass: every model is stubbed by
// (kind, name) first so forward and mutually-recursive references (a
// composition child naming a model declared later in the file, a
// fulfillment citing a data service defined after its implementation)
// resolve regardless of declaration order, then each stub is filled in.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, fmt.Sprintf("failed to read catalog %s", path), err)
	}

	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, fmt.Sprintf("failed to parse catalog %s", path), err)
	}

	return buildCatalog(doc)
}

func buildCatalog(doc catalogYAML) (*catalog.Catalog, error) {
	cat := catalog.New()
	stubs := make(map[string]*model.Model, len(doc.Models))

	for _, md := range doc.Models {
		kind, err := parseKind(md.Kind)
		if err != nil {
			return nil, err
		}
		stubs[md.Name] = &model.Model{Kind: kind, Name: md.Name}
	}

	lookup := func(name string) (*model.Model, error) {
		m, ok := stubs[name]
		if !ok {
			return nil, errors.NameResolutionError(name)
		}
		return m, nil
	}

	for _, md := range doc.Models {
		m := stubs[md.Name]
		if err := fillModel(m, md, lookup); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(stubs))
	for name := range stubs {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]*model.Model, 0, len(names))
	for _, name := range names {
		models = append(models, stubs[name])
	}
	cat.RegisterAll(models)
	return cat, nil
}

func parseKind(k string) (model.Kind, error) {
	switch k {
	case "task_context":
		return model.KindTaskContext, nil
	case "data_service":
		return model.KindDataService, nil
	case "composition":
		return model.KindComposition, nil
	case "deployment":
		return model.KindDeployment, nil
	default:
		return "", errors.InvalidSelection(fmt.Sprintf("unknown model kind %q", k))
	}
}

func parseDirection(d string) (model.Direction, error) {
	switch d {
	case "in":
		return model.DirectionIn, nil
	case "out":
		return model.DirectionOut, nil
	default:
		return "", errors.InvalidSelection(fmt.Sprintf("unknown port direction %q", d))
	}
}

func fillModel(m *model.Model, md modelYAML, lookup func(string) (*model.Model, error)) error {
	for _, p := range md.Ports {
		dir, err := parseDirection(p.Direction)
		if err != nil {
			return err
		}
		m.Ports = append(m.Ports, model.Port{Name: p.Name, Direction: dir, Type: p.Type})
	}

	for _, a := range md.Arguments {
		m.Arguments = append(m.Arguments, model.Argument{Name: a.Name, Default: a.Default, Required: a.Required})
	}

	for _, f := range md.Fulfills {
		target, err := lookup(f.Model)
		if err != nil {
			return err
		}
		m.Fulfillments = append(m.Fulfillments, model.Fulfillment{Model: target, PortMap: f.PortMap})
	}

	for _, c := range md.Children {
		models := make([]*model.Model, 0, len(c.Models))
		for _, name := range c.Models {
			mm, err := lookup(name)
			if err != nil {
				return err
			}
			models = append(models, mm)
		}
		m.Children = append(m.Children, &model.CompositionChild{Name: c.Name, Models: models, Optional: c.Optional})
	}

	for _, c := range md.Connections {
		policy, err := parsePolicy(c.Policy)
		if err != nil {
			return err
		}
		m.Connections = append(m.Connections, model.Connection{
			FromChild: c.FromChild, FromPort: c.FromPort,
			ToChild: c.ToChild, ToPort: c.ToPort,
			Policy: policy,
		})
	}

	for _, e := range md.Exports {
		dir, err := parseDirection(e.Direction)
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, model.Export{
			Port: e.Port, Direction: dir, Type: e.Type,
			Child: e.Child, ChildPort: e.ChildPort,
		})
	}

	for _, s := range md.Specializations {
		selections := make(map[string]*model.Model, len(s.Selections))
		for child, name := range s.Selections {
			mm, err := lookup(name)
			if err != nil {
				return err
			}
			selections[child] = mm
		}
		specialized, err := lookup(s.Specialized)
		if err != nil {
			return err
		}
		m.Specializations = append(m.Specializations, model.Specialization{Selections: selections, Specialized: specialized})
	}

	for _, s := range md.Slots {
		taskModel, err := lookup(s.TaskModel)
		if err != nil {
			return err
		}
		m.Slots = append(m.Slots, model.DeploymentSlot{Name: s.Name, TaskModel: taskModel})
	}

	return nil
}

// parsePolicy accepts "", "data", or "buffer:<size>"; an empty string is
// the connection default.
func parsePolicy(s string) (model.Policy, error) {
	if s == "" || s == "data" {
		return model.DefaultPolicy(), nil
	}
	if s == "buffer" {
		return model.Policy{Type: "buffer", Size: 1}, nil
	}
	var size int
	if _, err := fmt.Sscanf(s, "buffer:%d", &size); err == nil {
		return model.Policy{Type: "buffer", Size: size}, nil
	}
	return model.Policy{}, errors.InvalidSelection(fmt.Sprintf("unknown connection policy %q", s))
}
