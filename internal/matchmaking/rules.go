package matchmaking

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModeRules holds the player thresholds and map pool for one game mode.
//
// Precondition: 1 <= MinPlayers <= MaxPlayers after loading.
type ModeRules struct {
	Name       string   `yaml:"name"`
	MinPlayers int      `yaml:"min_players"`
	MaxPlayers int      `yaml:"max_players"`
	Maps       []string `yaml:"maps"`
}

// Rules maps mode names to their thresholds.
type Rules struct {
	modes map[string]ModeRules
}

type rulesFile struct {
	Modes []ModeRules `yaml:"modes"`
}

// NewRules builds a rule set from modes.
//
// Postcondition: Returns an error naming every invalid mode.
func NewRules(modes ...ModeRules) (*Rules, error) {
	r := &Rules{modes: make(map[string]ModeRules, len(modes))}
	var errs []error
	for _, m := range modes {
		switch {
		case m.Name == "":
			errs = append(errs, errors.New("mode name must not be empty"))
			continue
		case m.MinPlayers < 1:
			errs = append(errs, fmt.Errorf("mode %q: min_players must be >= 1, got %d", m.Name, m.MinPlayers))
		case m.MaxPlayers < m.MinPlayers:
			errs = append(errs, fmt.Errorf("mode %q: max_players %d is below min_players %d", m.Name, m.MaxPlayers, m.MinPlayers))
		}
		if _, dup := r.modes[m.Name]; dup {
			errs = append(errs, fmt.Errorf("mode %q defined twice", m.Name))
		}
		r.modes[m.Name] = m
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// DefaultRules returns the built-in mode table.
func DefaultRules() *Rules {
	r, err := NewRules(
		ModeRules{Name: "deathmatch", MinPlayers: 2, MaxPlayers: 8, Maps: []string{"foundry", "harbor", "citadel"}},
		ModeRules{Name: "team_deathmatch", MinPlayers: 4, MaxPlayers: 10, Maps: []string{"foundry", "harbor", "canyon"}},
		ModeRules{Name: "capture_the_flag", MinPlayers: 4, MaxPlayers: 12, Maps: []string{"canyon", "bastion"}},
		ModeRules{Name: "duel", MinPlayers: 2, MaxPlayers: 2, Maps: []string{"pit"}},
		ModeRules{Name: "ranked", MinPlayers: 2, MaxPlayers: 10, Maps: []string{"citadel", "bastion"}},
	)
	if err != nil {
		panic("matchmaking.DefaultRules: " + err.Error())
	}
	return r
}

// LoadRules parses a YAML rules file of the form:
//
//	modes:
//	  - name: deathmatch
//	    min_players: 2
//	    max_players: 8
//	    maps: [foundry, harbor]
//
// An empty path returns DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules parses YAML rules data.
func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(f.Modes) == 0 {
		return nil, errors.New("rules define no modes")
	}
	return NewRules(f.Modes...)
}

// Mode returns the rules for name.
func (r *Rules) Mode(name string) (ModeRules, bool) {
	m, ok := r.modes[name]
	return m, ok
}

// Require reports an error naming every mode in names that r does not define.
func (r *Rules) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := r.modes[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("rules do not define mode(s) %v", missing)
	}
	return nil
}

// Names returns all mode names in sorted order.
func (r *Rules) Names() []string {
	out := make([]string, 0, len(r.modes))
	for name := range r.modes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
