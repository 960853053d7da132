package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/orochestra/pkg/model"
)

const sampleCatalogYAML = `
models:
  - kind: data_service
    name: SonarDriver
    ports:
      - {name: reading, direction: out, type: distance}
  - kind: task_context
    name: HokuyoSonar
    ports:
      - {name: scan, direction: out, type: distance}
    fulfills:
      - model: SonarDriver
        port_map: {reading: scan}
  - kind: task_context
    name: Logger
    ports:
      - {name: samples, direction: in, type: distance}
  - kind: composition
    name: SonarLogging
    children:
      - name: sonar
        models: [SonarDriver]
      - name: logger
        models: [Logger]
    connections:
      - from_child: sonar
        from_port: reading
        to_child: logger
        to_port: samples
  - kind: deployment
    name: SonarDeployment
    slots:
      - {name: sonar_slot, task_model: HokuyoSonar}
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog_ResolvesForwardReferences(t *testing.T) {
	path := writeTemp(t, "catalog.yml", sampleCatalogYAML)

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	sonar, ok := cat.Lookup("HokuyoSonar")
	require.True(t, ok)
	service, ok := cat.Lookup("SonarDriver")
	require.True(t, ok)

	assert.True(t, sonar.Fulfills(service))
	mapping, ok := sonar.PortMapping(service)
	require.True(t, ok)
	assert.Equal(t, "scan", mapping["reading"])

	comp, ok := cat.Lookup("SonarLogging")
	require.True(t, ok)
	assert.Equal(t, model.KindComposition, comp.Kind)
	require.Len(t, comp.Children, 2)
	assert.Equal(t, []*model.Model{service}, comp.Children[0].Models)

	deployment, ok := cat.Lookup("SonarDeployment")
	require.True(t, ok)
	require.Len(t, deployment.Slots, 1)
	assert.Equal(t, sonar, deployment.Slots[0].TaskModel)
}

func TestLoadCatalog_UnknownModelKindFails(t *testing.T) {
	path := writeTemp(t, "catalog.yml", "models:\n  - kind: bogus\n    name: X\n")
	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadNetwork_BuildsRootRequirementAndGroups(t *testing.T) {
	catalogPath := writeTemp(t, "catalog.yml", sampleCatalogYAML)
	cat, err := LoadCatalog(catalogPath)
	require.NoError(t, err)

	networkYAMLContent := `
root:
  models: [SonarLogging]
defaults:
  - HokuyoSonar
groups:
  default:
    instances:
      - {process_server: localhost, deployment: SonarDeployment}
default_group: default
`
	networkPath := writeTemp(t, "network.yml", networkYAMLContent)

	net, err := LoadNetwork(networkPath, cat)
	require.NoError(t, err)

	require.Len(t, net.RootRequirement.Models, 1)
	assert.Equal(t, "SonarLogging", net.RootRequirement.Models[0].Name)
	require.Len(t, net.DIR.Defaults(), 1)
	assert.Equal(t, "default", net.DeployOptions.DefaultGroup)
	require.Contains(t, net.DeployOptions.Groups, "default")
	assert.Len(t, net.DeployOptions.Groups["default"].Instances, 1)
}

func TestLoadNetwork_DataServiceDefaultExpandsToImplementations(t *testing.T) {
	catalogPath := writeTemp(t, "catalog.yml", sampleCatalogYAML)
	cat, err := LoadCatalog(catalogPath)
	require.NoError(t, err)

	networkYAMLContent := `
root:
  models: [SonarLogging]
defaults:
  - SonarDriver
`
	networkPath := writeTemp(t, "network.yml", networkYAMLContent)

	net, err := LoadNetwork(networkPath, cat)
	require.NoError(t, err)

	defaults := net.DIR.Defaults()
	require.Len(t, defaults, 1, "the service's lone catalog implementation becomes the default")
	assert.Equal(t, "HokuyoSonar", defaults[0].ConcreteModelOrNil().Name)
}
