package trovedb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// fixture mirrors the YAML schema for database snapshots.
type fixture struct {
	Troves []fixtureTrove            `yaml:"troves"`
	Labels map[string][]fixtureTrove `yaml:"labels"`
}

type fixtureTrove struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version"`
	Flavor   string   `yaml:"flavor"`
	Provides []string `yaml:"provides"`
	Requires []string `yaml:"requires"`
	Paths    []string `yaml:"paths"`
}

// LoadFile reads a database snapshot from a YAML file. The snapshot
// carries the installed troves plus, optionally, per-label repository
// contents used for install-label-path resolution.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trovedb fixture: %w", err)
	}
	return Load(data)
}

// Load parses a database snapshot from YAML bytes.
func Load(data []byte) (*MemoryStore, error) {
	var fix fixture
	if err := yaml.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("parse trovedb fixture: %w", err)
	}

	store := NewMemoryStore()
	for i, ft := range fix.Troves {
		trove, err := ft.toDomain()
		if err != nil {
			return nil, fmt.Errorf("trove %d: %w", i, err)
		}
		store.AddTrove(trove)
	}
	for label, troves := range fix.Labels {
		for i, ft := range troves {
			trove, err := ft.toDomain()
			if err != nil {
				return nil, fmt.Errorf("label %s trove %d: %w", label, i, err)
			}
			store.AddLabelTrove(label, trove)
		}
	}
	return store, nil
}

func (ft fixtureTrove) toDomain() (*domain.Trove, error) {
	if ft.Name == "" {
		return nil, fmt.Errorf("%w: trove name is required", domain.ErrConfigInvalid)
	}
	trove := &domain.Trove{
		Name:     ft.Name,
		Version:  ft.Version,
		Flavor:   ft.Flavor,
		Provides: domain.NewDependencySet(),
		Requires: domain.NewDependencySet(),
		Paths:    ft.Paths,
	}
	// Every trove implicitly provides its own name.
	trove.Provides.Add(domain.NewDependency(domain.DepTrove, ft.Name))
	for _, raw := range ft.Provides {
		dep, err := domain.ParseDependency(raw)
		if err != nil {
			return nil, err
		}
		trove.Provides.Add(dep)
	}
	for _, raw := range ft.Requires {
		dep, err := domain.ParseDependency(raw)
		if err != nil {
			return nil, err
		}
		trove.Requires.Add(dep)
	}
	return trove, nil
}
