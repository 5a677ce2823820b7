package dispatch

import (
	"fmt"
	"strconv"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/gpu"
	"github.com/dante-gpu/dante-sweep/internal/grid"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/dante-gpu/dante-sweep/internal/partition"
)

// SessionPlan is one session the dispatcher will create.
type SessionPlan struct {
	Name         string
	ResourceID   gpu.ResourceID
	Combinations []grid.Combination
	Commands     []grid.Command // device assignment included
	Script       string         // shell text handed to the launcher
}

// Plan is the pure outcome of expanding the grid and assigning it to resources.
type Plan struct {
	Expansion   *grid.Expansion
	Resources   []gpu.ResourceID
	ChunkSize   int
	Assignments [][]grid.Combination // aligned with Resources
	Sessions    []SessionPlan
}

// buildPlan expands spec and assigns the combinations to resources under the
// configured launch policy. It performs no side effects.
func buildPlan(cfg *config.Config, spec *grid.Spec, resources []gpu.ResourceID) (*Plan, error) {
	exp, err := grid.Expand(spec)
	if err != nil {
		return nil, err
	}

	assignments, err := partition.Split(exp.Combinations, len(resources))
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Expansion:   exp,
		Resources:   resources,
		ChunkSize:   partition.ChunkSize(len(exp.Combinations), len(resources)),
		Assignments: assignments,
	}

	prefix := cfg.Dispatch.SessionPrefix
	for i, id := range resources {
		part := assignments[i]
		if len(part) == 0 {
			continue
		}

		cmds := make([]grid.Command, len(part))
		for j, c := range part {
			cmd, err := exp.Template.Render(c)
			if err != nil {
				return nil, err
			}
			cmds[j] = cmd.WithEnv(cfg.Dispatch.DeviceEnvVar, strconv.Itoa(int(id)))
		}

		switch cfg.Dispatch.LaunchPolicy {
		case config.LaunchPerCombination:
			for j := range part {
				plan.Sessions = append(plan.Sessions, SessionPlan{
					Name:         fmt.Sprintf("%s%d_%d", prefix, id, j),
					ResourceID:   id,
					Combinations: part[j : j+1],
					Commands:     cmds[j : j+1],
					Script:       script(cfg, cmds[j:j+1]),
				})
			}
		default:
			plan.Sessions = append(plan.Sessions, SessionPlan{
				Name:         fmt.Sprintf("%s%d", prefix, id),
				ResourceID:   id,
				Combinations: part,
				Commands:     cmds,
				Script:       script(cfg, cmds),
			})
		}
	}
	return plan, nil
}

// script chains cmds and, with keep_alive, leaves an interactive shell behind.
func script(cfg *config.Config, cmds []grid.Command) string {
	s := grid.JoinShell(cmds)
	if cfg.Dispatch.KeepAlive {
		s += "; exec " + cfg.Session.Shell
	}
	return s
}

// CLI converts the plan into its --plan-json form.
func (p *Plan) CLI() models.CliPlan {
	out := models.CliPlan{
		GridKeys:     p.Expansion.Template.Keys(),
		Combinations: len(p.Expansion.Combinations),
		Resources:    make([]int, len(p.Resources)),
		ChunkSize:    p.ChunkSize,
		Template:     p.Expansion.Template.String(),
		Sessions:     make([]models.CliSessionPlan, len(p.Sessions)),
	}
	for i, id := range p.Resources {
		out.Resources[i] = int(id)
	}
	for i, s := range p.Sessions {
		cmds := make([]string, len(s.Commands))
		for j, c := range s.Commands {
			cmds[j] = c.Shell()
		}
		out.Sessions[i] = models.CliSessionPlan{
			Session:    s.Name,
			ResourceID: int(s.ResourceID),
			Commands:   cmds,
		}
	}
	return out
}
