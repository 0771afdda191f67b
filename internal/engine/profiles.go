package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/arborstack/arbor-fdr/internal/evaluate"
)

// Profile is one named preset of analysis parameters.
type Profile struct {
	Name  string    `yaml:"name"`
	Alpha float64   `yaml:"alpha"`
	Mode  string    `yaml:"mode"`
	Grid  []float64 `yaml:"grid"`
}

// ProfileSet resolves named presets loaded from YAML.
type ProfileSet struct {
	profiles map[string]Profile
	logger   *slog.Logger
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads presets from the provided path. If path is empty or
// the file does not exist, returns a nil set, which resolves nothing.
func LoadProfiles(path string, logger *slog.Logger) (*ProfileSet, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg profileFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	set := &ProfileSet{profiles: make(map[string]Profile, len(cfg.Profiles)), logger: logger}
	for i, p := range cfg.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("profile %d: missing name", i)
		}
		if _, dup := set.profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		if _, err := evaluate.ParseMode(p.Mode); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		if p.Alpha < 0 || p.Alpha >= 1 {
			return nil, fmt.Errorf("profile %q: alpha %v outside (0, 1)", p.Name, p.Alpha)
		}
		set.profiles[p.Name] = p
	}
	return set, nil
}

// Resolve returns the params of a named preset. A nil set or an unknown
// name resolves nothing.
func (s *ProfileSet) Resolve(name string) (Params, bool) {
	if s == nil || name == "" {
		return Params{}, false
	}
	p, ok := s.profiles[name]
	if !ok {
		return Params{}, false
	}
	return Params{Grid: p.Grid, Alpha: p.Alpha, Mode: evaluate.Mode(p.Mode)}, true
}

// Names lists the loaded preset names in sorted order.
func (s *ProfileSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
