package core

import (
	"fmt"
	"strings"
)

// Player is a simulated participant: a display name, the character it
// voices and its own conversation handle.
//
// Contract:
//   - Name is distinct from Character.Name and unique within a session
//   - exactly one Conversation per Player for the lifetime of a session
//   - a Player belongs to exactly one session; use Clone to reuse a template
type Player struct {
	Name         string
	Character    Character
	Conversation *Conversation
}

// NewPlayer creates a player with a fresh conversation handle.
func NewPlayer(name string, character Character) *Player {
	return &Player{Name: name, Character: character, Conversation: NewConversation()}
}

// Validate checks the player and its character.
func (p *Player) Validate() error {
	if p == nil {
		return fmt.Errorf("player is nil")
	}

	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("player name is required")
	}

	if err := p.Character.Validate(); err != nil {
		return fmt.Errorf("player %s: %w", p.Name, err)
	}

	return nil
}

// Describe renders the roster line other players see, e.g.
// "Bob, playing Bolzar\nLevel 3 mage".
func (p *Player) Describe() string {
	return fmt.Sprintf("%s, playing %s", p.Name, p.Character.Details())
}

// Utter formats a raw backend response as spoken by this player's character.
func (p *Player) Utter(text string) Utterance {
	return Utterance{Player: p.Name, Character: p.Character.Name, Text: text}
}

// Clone returns a deep copy. The conversation handle is copied as well so the
// clone never aliases the original's history.
func (p *Player) Clone() *Player {
	clone := &Player{Name: p.Name, Character: p.Character.Clone()}
	if p.Conversation != nil {
		clone.Conversation = p.Conversation.Clone()
	}

	return clone
}

// ClonePlayers deep-copies a party.
func ClonePlayers(players []*Player) []*Player {
	clones := make([]*Player, len(players))
	for i, p := range players {
		clones[i] = p.Clone()
	}

	return clones
}

// Utterance is one formatted response within a round. Utterances are
// append-only and never mutated after they are recorded.
type Utterance struct {
	Player    string `json:"player"`
	Character string `json:"character"`
	Text      string `json:"text"`
}

// String renders the utterance the way other players read it.
func (u Utterance) String() string {
	return fmt.Sprintf("%s: %s", u.Character, u.Text)
}
