package room

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultMode is used when a room is created without a mode.
const DefaultMode = "debate"

// Mode is a named configuration profile for a room.
type Mode struct {
	Name      string
	Threshold float64
	// DecisionTimeout bounds how long a proposal stays open. Zero leaves
	// proposals open until every member has voted.
	DecisionTimeout time.Duration
}

var modes = map[string]Mode{
	"debate":     {Name: "debate", Threshold: 0.5, DecisionTimeout: 60 * time.Second},
	"consensus":  {Name: "consensus", Threshold: 0.75, DecisionTimeout: 120 * time.Second},
	"brainstorm": {Name: "brainstorm", Threshold: 0.5},
	"quick":      {Name: "quick", Threshold: 0.5, DecisionTimeout: 15 * time.Second},
}

// LookupMode returns the profile called name (case-insensitive). An empty
// name selects DefaultMode.
func LookupMode(name string) (Mode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultMode
	}
	m, ok := modes[name]
	if !ok {
		return Mode{}, fmt.Errorf("%w: %s (want one of %s)", ErrUnknownMode, name, strings.Join(ModeNames(), ", "))
	}
	return m, nil
}

// ModeNames lists the known modes in alphabetical order.
func ModeNames() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
