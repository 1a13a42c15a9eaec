package core

import (
	"fmt"
	"strings"
)

// Character is the static description of a player-character. It is treated
// as immutable once a session has been created.
type Character struct {
	Name      string   `json:"name" yaml:"name"`
	Class     string   `json:"class" yaml:"class"`
	Level     int      `json:"level" yaml:"level"`
	Abilities []string `json:"abilities,omitempty" yaml:"abilities,omitempty"`
}

// Details renders the character sheet used inside system prompts, e.g.
//
//	Bolzar
//	Level 3 mage
//	Spells: Witchbolt, Sleep
func (c Character) Details() string {
	lines := []string{c.Name, fmt.Sprintf("Level %d %s", c.Level, c.Class)}
	if len(c.Abilities) > 0 {
		lines = append(lines, "Spells: "+strings.Join(c.Abilities, ", "))
	}

	return strings.Join(lines, "\n")
}

// Validate reports whether the character can take part in a session.
func (c Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("character name is required")
	}

	if c.Level < 1 {
		return fmt.Errorf("character %s: level must be positive, got %d", c.Name, c.Level)
	}

	return nil
}

// Clone returns a copy that shares no memory with c.
func (c Character) Clone() Character {
	clone := c
	if c.Abilities != nil {
		clone.Abilities = append([]string(nil), c.Abilities...)
	}

	return clone
}
