// Package discovery yields the ordered list of specs for a test assembly.
// The orchestrator depends only on the Discoverer interface; the YAML
// manifest implementation lives alongside it.
package discovery

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-multinode/types"
)

// Discoverer enumerates the specs contained in a test assembly. It must be
// idempotent and side-effect-free beyond reading the assembly; discovery
// errors short-circuit the run.
type Discoverer interface {
	Discover(assemblyPath string) ([]types.Spec, []error)
}

// ManifestDiscoverer reads a YAML spec manifest describing the multi-node
// specs of an assembly and their node roles.
type ManifestDiscoverer struct {
	config Config
}

// Config contains discoverer configuration
type Config struct {
	Log log.Logger
	// ManifestFile is the YAML manifest path (e.g. 'specs.yaml').
	ManifestFile string
}

// specManifest is the on-disk manifest shape.
type specManifest struct {
	Specs []specConfig `yaml:"specs"`
}

type specConfig struct {
	TestClass  string       `yaml:"test_class"`
	TestMethod string       `yaml:"test_method"`
	Skip       string       `yaml:"skip,omitempty"`
	Nodes      []nodeConfig `yaml:"nodes"`
}

type nodeConfig struct {
	Role string `yaml:"role"`
}

var _ Discoverer = &ManifestDiscoverer{}

// NewManifestDiscoverer creates a manifest-backed discoverer.
func NewManifestDiscoverer(cfg Config) (*ManifestDiscoverer, error) {
	if cfg.ManifestFile == "" {
		return nil, fmt.Errorf("spec manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &ManifestDiscoverer{config: cfg}, nil
}

// Discover parses the manifest and resolves each entry against the assembly.
// Invalid entries surface as discovery errors rather than panics; a non-empty
// error list aborts the run with zero specs executed.
func (d *ManifestDiscoverer) Discover(assemblyPath string) ([]types.Spec, []error) {
	manifest, err := loadManifest(d.config.ManifestFile)
	if err != nil {
		return nil, []error{err}
	}

	if _, err := os.Stat(assemblyPath); err != nil {
		return nil, []error{fmt.Errorf("test assembly %s: %w", assemblyPath, err)}
	}

	var specs []types.Spec
	var errs []error
	for i, cfg := range manifest.Specs {
		spec, err := buildSpec(cfg, assemblyPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("manifest entry %d: %w", i, err))
			continue
		}
		specs = append(specs, spec)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	d.config.Log.Debug("Discovered specs", "assembly", assemblyPath, "len(specs)", len(specs))
	return specs, nil
}

func buildSpec(cfg specConfig, assemblyPath string) (types.Spec, error) {
	if cfg.TestClass == "" {
		return types.Spec{}, fmt.Errorf("spec has no test_class")
	}
	if cfg.TestMethod == "" {
		return types.Spec{}, fmt.Errorf("spec %s has no test_method", cfg.TestClass)
	}

	spec := types.Spec{
		TestName:   cfg.TestClass,
		MethodName: cfg.TestMethod,
		SkipReason: cfg.Skip,
	}
	for i, node := range cfg.Nodes {
		if node.Role == "" {
			return types.Spec{}, fmt.Errorf("spec %s: node %d has no role", cfg.TestClass, i+1)
		}
		spec.Nodes = append(spec.Nodes, types.NodeTest{
			Index:        i + 1,
			Role:         node.Role,
			TestClass:    cfg.TestClass,
			TestMethod:   cfg.TestMethod,
			AssemblyPath: assemblyPath,
		})
	}

	if err := spec.Validate(); err != nil {
		return types.Spec{}, err
	}
	return spec, nil
}

// loadManifest loads a spec manifest from a file
func loadManifest(path string) (*specManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var manifest specManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest file: %w", err)
	}

	return &manifest, nil
}
