package fixture

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/orochestra/pkg/catalog"
	"github.com/davidthor/orochestra/pkg/deploy"
	"github.com/davidthor/orochestra/pkg/dir"
	"github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/requirements"
)

// requirementYAML is the flat shape of an InstanceRequirements value in
// a network descriptor file.
type requirementYAML struct {
	Models          []string               `yaml:"models"`
	Arguments       map[string]interface{} `yaml:"arguments"`
	DeploymentHints []string               `yaml:"deployment_hints"`
	OrocosName      string                 `yaml:"orocos_name"`
	DeploymentGroup string                 `yaml:"deployment_group"`
}

// selectionYAML is one explicit DIR mapping entry. Key is either
// "name:<name>" or "model:<ModelName>"; Value is "name:<name>",
// "model:<ModelName>" or a bare model name. A model value becomes a
// component selection, or a data-service selection when the model is a
// data service.
type selectionYAML struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// instanceYAML is one deployment instance: a process server running a
// named deployment model.
type instanceYAML struct {
	ProcessServer string `yaml:"process_server"`
	Deployment    string `yaml:"deployment"`
}

// groupYAML is a named collection of deployment instances.
type groupYAML struct {
	Instances []instanceYAML `yaml:"instances"`
}

// networkYAML is the top-level shape of a network descriptor file: the
// root requirement to instantiate, the DIR entries to seed it with, and
// the deployment groups the deployer should draw candidates from.
type networkYAML struct {
	Root         requirementYAML      `yaml:"root"`
	Selections   []selectionYAML      `yaml:"selections"`
	Defaults     []string             `yaml:"defaults"`
	Groups       map[string]groupYAML `yaml:"groups"`
	DefaultGroup string               `yaml:"default_group"`
}

// Network is a fully resolved network descriptor: the root requirement
// to instantiate, a seeded (unresolved) DIR, and deploy.Options ready to
// pass to deploy.Deploy once the plan has been merged.
type Network struct {
	RootRequirement *requirements.Requirements
	DIR             *dir.DIR
	DeployOptions   deploy.Options
}

// LoadNetwork reads a network descriptor file and resolves every model
// reference against cat.
func LoadNetwork(path string, cat *catalog.Catalog) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, fmt.Sprintf("failed to read network %s", path), err)
	}

	var doc networkYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, fmt.Sprintf("failed to parse network %s", path), err)
	}

	return buildNetwork(doc, cat)
}

func buildNetwork(doc networkYAML, cat *catalog.Catalog) (*Network, error) {
	root, err := buildRequirements(doc.Root, cat)
	if err != nil {
		return nil, err
	}

	d := dir.New()
	for _, s := range doc.Selections {
		key, err := parseSelectionKey(s.Key, cat)
		if err != nil {
			return nil, err
		}
		value, err := parseSelectionValue(s.Value, cat)
		if err != nil {
			return nil, err
		}
		d.Add(dir.Explicit(key, value))
	}
	for _, name := range doc.Defaults {
		m, ok := cat.Lookup(name)
		if !ok {
			return nil, errors.NameResolutionError(name)
		}
		if m.Kind == model.KindDataService {
			// a data service named as a default stands for whatever the
			// catalog provides for it: each concrete implementation becomes
			// its own default, so a lone implementation is selected and
			// several leave the service unselected as ambiguous.
			for _, impl := range cat.Fulfilling(m) {
				if !impl.IsConcrete() {
					continue
				}
				d.Add(dir.Default(requirements.ComponentSelection(impl)))
			}
			continue
		}
		d.Add(dir.Default(requirements.ComponentSelection(m)))
	}

	groups := make(map[string]*deploy.Group, len(doc.Groups))
	for name, g := range doc.Groups {
		instances := make([]deploy.Instance, 0, len(g.Instances))
		for _, inst := range g.Instances {
			depModel, ok := cat.Lookup(inst.Deployment)
			if !ok {
				return nil, errors.NameResolutionError(inst.Deployment)
			}
			instances = append(instances, deploy.Instance{ProcessServer: inst.ProcessServer, Model: depModel})
		}
		groups[name] = &deploy.Group{Name: name, Instances: instances}
	}

	return &Network{
		RootRequirement: root,
		DIR:             d,
		DeployOptions:   deploy.Options{Groups: groups, DefaultGroup: doc.DefaultGroup},
	}, nil
}

func buildRequirements(r requirementYAML, cat *catalog.Catalog) (*requirements.Requirements, error) {
	req := requirements.New()
	for _, name := range r.Models {
		m, ok := cat.Lookup(name)
		if !ok {
			return nil, errors.NameResolutionError(name)
		}
		if err := req.AddModel(m); err != nil {
			return nil, err
		}
	}
	for k, v := range r.Arguments {
		req.Arguments[k] = v
	}
	req.DeploymentHints = append([]string(nil), r.DeploymentHints...)
	req.OrocosName = r.OrocosName
	req.DeploymentGroup = r.DeploymentGroup
	return req, nil
}

func parseSelectionKey(s string, cat *catalog.Catalog) (requirements.Key, error) {
	if rest, ok := strings.CutPrefix(s, "name:"); ok {
		return requirements.NameKey(rest), nil
	}
	if rest, ok := strings.CutPrefix(s, "model:"); ok {
		m, ok := cat.Lookup(rest)
		if !ok {
			return requirements.Key{}, errors.NameResolutionError(rest)
		}
		return requirements.ModelKey(m), nil
	}
	return requirements.Key{}, errors.InvalidSelection(fmt.Sprintf("selection key %q must start with name: or model:", s))
}

func parseSelectionValue(s string, cat *catalog.Catalog) (requirements.Selection, error) {
	if rest, ok := strings.CutPrefix(s, "name:"); ok {
		return requirements.NameSelection(rest), nil
	}
	name, _ := strings.CutPrefix(s, "model:")
	m, ok := cat.Lookup(name)
	if !ok {
		return requirements.Selection{}, errors.NameResolutionError(s)
	}
	if m.Kind == model.KindDataService {
		return requirements.ServiceSelection(m), nil
	}
	return requirements.ComponentSelection(m), nil
}
