// Package party provides the built-in party and opening scenario used when
// nothing else is configured.
package party

import (
	"fmt"

	"github.com/maxwelljoslyn/gm-trainer/core"
)

// Scenario is the default opening narration.
const Scenario = "The year is 1651. You and your companions woke up dawn and traveled into the foothills of the mountains of Tenerife, the most important of the Canary Islands. Now you stand before a cave whose opening is as tall as two men and as wide as a wagon. You've been told that before these islands were conquered by the Spanish, the indigenous Guanches (who still exist) would bury their mummified dead in caverns like this."

// Member is the configurable form of a player.
type Member struct {
	Player    string         `yaml:"player" json:"player"`
	Character core.Character `yaml:"character" json:"character"`
}

// DefaultMembers lists the built-in party.
func DefaultMembers() []Member {
	return []Member{
		{
			Player:    "Alice",
			Character: core.Character{Name: "Arvak", Class: "fighter", Level: 2},
		},
		{
			Player: "Bob",
			Character: core.Character{
				Name:      "Bolzar",
				Class:     "mage",
				Level:     3,
				Abilities: []string{"Witchbolt", "Protective Aura", "Levitate", "Sleep"},
			},
		},
	}
}

// Default returns fresh players for the built-in party. Every call yields
// new conversations.
func Default() []*core.Player {
	players, _ := Build(DefaultMembers())
	return players
}

// Build turns members into players with fresh conversations.
func Build(members []Member) ([]*core.Player, error) {
	players := make([]*core.Player, 0, len(members))
	for i, m := range members {
		p := core.NewPlayer(m.Player, m.Character.Clone())
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("party member %d: %w", i, err)
		}
		players = append(players, p)
	}

	return players, nil
}
