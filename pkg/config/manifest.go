package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// Manifest is the YAML description of a build handed to `check`: the
// tree roots, recipe macros, and the components assembled so far with
// their dependency sets.
type Manifest struct {
	Destdir       string                       `yaml:"destdir"`
	Builddir      string                       `yaml:"builddir"`
	Macros        map[string]string            `yaml:"macros"`
	BuildRequires []string                     `yaml:"build_requires"`
	Bootstrap     bool                         `yaml:"bootstrap"`
	BuildLabel    string                       `yaml:"build_label"`
	BuildLog      string                       `yaml:"build_log"`
	Flags         map[string]string            `yaml:"flags"`
	LabelPath     []string                     `yaml:"label_path"`
	Components    map[string]ManifestComponent `yaml:"components"`
}

// ManifestComponent carries one component's packaged state.
type ManifestComponent struct {
	Provides []string `yaml:"provides"`
	Requires []string `yaml:"requires"`
	Paths    []string `yaml:"paths"`
}

// LoadManifest reads and converts a build manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return &m, nil
}

// BuildTree converts the manifest into the run state the policies
// operate on. Site macros fill in what the manifest leaves unset.
func (m *Manifest) BuildTree(siteMacros map[string]string) (*domain.BuildTree, error) {
	macros := make(map[string]string, len(siteMacros)+len(m.Macros))
	for k, v := range siteMacros {
		macros[k] = v
	}
	for k, v := range m.Macros {
		macros[k] = v
	}

	tree := &domain.BuildTree{
		Destdir:       m.Destdir,
		Builddir:      m.Builddir,
		Macros:        macros,
		Components:    make(map[string]*domain.Component),
		PathOwners:    make(map[string]string),
		BuildRequires: append([]string(nil), m.BuildRequires...),
		Bootstrap:     m.Bootstrap,
		BuildLabel:    m.BuildLabel,
		BuildLogPath:  m.BuildLog,
	}
	if len(m.Flags) > 0 {
		tree.UseFlags = make(map[string]string, len(m.Flags))
		for name, path := range m.Flags {
			tree.UseFlags[name] = path
		}
	}

	for name, mc := range m.Components {
		comp := domain.NewComponent(name)
		for _, raw := range mc.Provides {
			dep, err := domain.ParseDependency(raw)
			if err != nil {
				return nil, fmt.Errorf("component %s provides: %w", name, err)
			}
			comp.Provides.Add(dep)
		}
		for _, raw := range mc.Requires {
			dep, err := domain.ParseDependency(raw)
			if err != nil {
				return nil, fmt.Errorf("component %s requires: %w", name, err)
			}
			comp.Requires.Add(dep)
		}
		comp.Paths = append(comp.Paths, mc.Paths...)
		tree.Components[name] = comp
		for _, p := range mc.Paths {
			tree.PathOwners[p] = name
		}
	}
	return tree, nil
}
