// Package prompt builds the two texts sent to the backend on every turn: the
// per-player system prompt (persona, roster, directives, examples) and the
// user prompt (previous round, narration, current round so far).
//
// Assembly is pure string work; the same inputs always produce the same
// output.
package prompt

import (
	"strings"
	"text/template"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/internal/util"
)

// NarrationPrefix marks the GM's line in the user prompt.
const NarrationPrefix = "GM: "

// DefaultDirectives are the standing instructions appended to every
// system prompt.
var DefaultDirectives = []string{
	"No yapping or preambles.",
	"No saying more than one logical thing at a time.",
	"No assuming that you possess any skills, items, or knowledge without confirming by asking the GM.",
	"No describing any game scenario elements that aren't about your character.",
	"No describing other characters.",
	"Never surround outputs with asterisks, *like this*.",
}

// DefaultTemplate is the system prompt layout.
const DefaultTemplate = `You, {{.Name}}, are playing a tabletop RPG. Your character is {{.Details}}. Your fellow player-characters are:
{{join "\n" .Roster}}
The Game Master (GM) of the session will describe a scenario to you.
You will:
1. Ask questions of the GM. (optional)
2. Talk with your fellow players. (optional)
3. Declaratively state what you want your character to do. (mandatory)

Always follow these further instructions:
{{join "\n" .Directives}}
{{- if .Examples}}

Examples of good responses:
{{- range .Examples}}
GM: {{.Narration}}
You: {{.Response}}
{{- end}}
{{- end}}`

// Example is a worked narration/response pair shown to the model.
type Example struct {
	Narration string `yaml:"narration" json:"narration"`
	Response  string `yaml:"response" json:"response"`
}

// Options configures an Assembler.
type Options struct {
	// Template overrides DefaultTemplate.
	Template string
	// Directives overrides DefaultDirectives.
	Directives []string
	// Examples are appended after the directives.
	Examples []Example
}

// Assembler renders system and user prompts.
type Assembler struct {
	tmpl       *template.Template
	directives []string
	examples   []Example
}

type systemData struct {
	Name       string
	Details    string
	Roster     []string
	Directives []string
	Examples   []Example
}

// defaultSystem is parsed once; a broken DefaultTemplate panics at init.
var defaultSystem = util.MustParseTemplate("system", DefaultTemplate)

// New creates an Assembler. It fails only when a custom template does not
// parse.
func New(optFns ...func(o *Options)) (*Assembler, error) {
	opts := Options{
		Template:   DefaultTemplate,
		Directives: DefaultDirectives,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tmpl := defaultSystem
	if opts.Template != DefaultTemplate {
		var err error
		if tmpl, err = util.ParseTemplate("system", opts.Template); err != nil {
			return nil, err
		}
	}

	return &Assembler{
		tmpl:       tmpl,
		directives: append([]string(nil), opts.Directives...),
		examples:   append([]Example(nil), opts.Examples...),
	}, nil
}

// MustNew is like New but panics on a bad template.
func MustNew(optFns ...func(o *Options)) *Assembler {
	a, err := New(optFns...)
	if err != nil {
		panic(err)
	}

	return a
}

// System renders the system prompt for self. The roster lists every other
// member of party in order; self is excluded by player name.
func (a *Assembler) System(self *core.Player, party []*core.Player) (string, error) {
	roster := make([]string, 0, len(party))
	for _, p := range party {
		if p == nil || p.Name == self.Name {
			continue
		}
		roster = append(roster, p.Describe())
	}

	return util.RenderTemplate(a.tmpl, systemData{
		Name:       self.Name,
		Details:    self.Character.Details(),
		Roster:     roster,
		Directives: a.directives,
		Examples:   a.examples,
	})
}

// User renders the user prompt: previous-round utterances, the narration
// line, then the utterances of the current round so far, one per line.
func (a *Assembler) User(previous []string, narration string, current []string) string {
	return User(previous, narration, current)
}

// User is the stateless form of Assembler.User.
func User(previous []string, narration string, current []string) string {
	lines := make([]string, 0, len(previous)+1+len(current))
	lines = append(lines, previous...)
	lines = append(lines, NarrationPrefix+narration)
	lines = append(lines, current...)

	return strings.Join(lines, "\n")
}
