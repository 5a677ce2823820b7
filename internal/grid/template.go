package grid

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/dante-gpu/dante-sweep/internal/models"
)

// Template is the command line shared by every combination of a grid:
// program tokens, static "--key value" pairs, true boolean flags, and one
// "--key <value>" slot per grid key.
type Template struct {
	program []string
	static  []string
	keys    []string
}

func newTemplate(spec *Spec) *Template {
	t := &Template{
		program: append([]string(nil), spec.Program...),
		keys:    spec.GridKeys(),
	}
	for _, p := range spec.Params {
		if p.IsList {
			continue
		}
		if p.Value.Kind == KindBool {
			// false flags are dropped entirely
			if p.Value.Bool {
				t.static = append(t.static, "--"+p.Name)
			}
			continue
		}
		t.static = append(t.static, "--"+p.Name, p.Value.Text)
	}
	return t
}

// Keys returns the grid keys the template expects values for.
func (t *Template) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Render binds the combination to the grid keys by position.
func (t *Template) Render(c Combination) (Command, error) {
	if len(c) != len(t.keys) {
		return Command{}, fmt.Errorf("%w: combination has %d values, template expects %d", models.ErrInvalidSpec, len(c), len(t.keys))
	}

	args := make([]string, 0, len(t.program)+len(t.static)+2*len(t.keys))
	args = append(args, t.program...)
	args = append(args, t.static...)
	for i, key := range t.keys {
		args = append(args, "--"+key, c[i].Text)
	}
	return Command{Args: args}, nil
}

// String renders the template with "{key}" placeholders in the grid slots.
func (t *Template) String() string {
	parts := make([]string, 0, len(t.program)+len(t.static)+2*len(t.keys))
	for _, tok := range t.program {
		parts = append(parts, shellescape.Quote(tok))
	}
	for _, tok := range t.static {
		parts = append(parts, shellescape.Quote(tok))
	}
	for _, key := range t.keys {
		parts = append(parts, "--"+key, "{"+key+"}")
	}
	return strings.Join(parts, " ")
}

// Command is a rendered command: environment assignments plus argument
// tokens. It is only turned into shell text by Shell.
type Command struct {
	Env  []EnvVar
	Args []string
}

// EnvVar is a single NAME=value assignment prefixed to a command.
type EnvVar struct {
	Name  string
	Value string
}

// WithEnv returns a copy of the command with an extra environment assignment.
func (c Command) WithEnv(name, value string) Command {
	env := make([]EnvVar, 0, len(c.Env)+1)
	env = append(env, c.Env...)
	env = append(env, EnvVar{Name: name, Value: value})
	return Command{Env: env, Args: append([]string(nil), c.Args...)}
}

// Shell serializes the command for "sh -c", quoting every token.
func (c Command) Shell() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args))
	for _, e := range c.Env {
		parts = append(parts, e.Name+"="+shellescape.Quote(e.Value))
	}
	for _, a := range c.Args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}

// JoinShell chains commands so they run one after another regardless of
// each other's exit status.
func JoinShell(cmds []Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.Shell()
	}
	return strings.Join(parts, "; ")
}
