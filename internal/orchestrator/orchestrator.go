// Package orchestrator sequences scrape phases and implements the run modes:
// all, resume, single, report and reset.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/metrics"
	"github.com/JakeFAU/buildingbit-scraper/internal/phase"
	"github.com/JakeFAU/buildingbit-scraper/internal/state"
)

var (
	// ErrUnknownPhase reports a phase name that is not registered.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrDependencyNotMet reports a single-phase run whose dependencies have not completed.
	ErrDependencyNotMet = errors.New("phase dependency not met")
)

// Phase is one named unit of the total order.
type Phase struct {
	Name         string
	Dependencies []string
	Runner       phase.Runner
}

// Checkpoint is the state surface the orchestrator needs.
type Checkpoint interface {
	IsKeyComplete(key string) bool
	MarkKeyComplete(key string) error
	ClearKey(key string) error
	SetPhase(name string) error
	Phase() (string, bool)
	SetRunID(id string) error
	Reset() error
	GenerateReport() state.Report
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps for phase durations.
type Clock interface {
	Now() time.Time
}

// Orchestrator runs phases in their registered order.
type Orchestrator struct {
	phases     []Phase
	index      map[string]int
	checkpoint Checkpoint
	ids        IDGenerator
	clock      Clock
	logger     *zap.Logger
}

// New validates the phase list: names must be unique and every dependency
// must name an earlier phase.
func New(phases []Phase, checkpoint Checkpoint, ids IDGenerator, clock Clock, logger *zap.Logger) (*Orchestrator, error) {
	if checkpoint == nil {
		return nil, fmt.Errorf("checkpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	index := make(map[string]int, len(phases))
	for i, p := range phases {
		if p.Name == "" || p.Runner == nil {
			return nil, fmt.Errorf("phase %d: name and runner are required", i)
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("phase %q registered twice", p.Name)
		}
		for _, dep := range p.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("phase %q depends on %q: %w", p.Name, dep, ErrUnknownPhase)
			}
		}
		index[p.Name] = i
	}
	return &Orchestrator{
		phases:     phases,
		index:      index,
		checkpoint: checkpoint,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CompletionKey is the checkpoint key recording that a phase finished.
func CompletionKey(name string) string {
	return "phase:" + name
}

// Names lists the registered phases in order.
func (o *Orchestrator) Names() []string {
	names := make([]string, len(o.phases))
	for i, p := range o.phases {
		names[i] = p.Name
	}
	return names
}

// RunAll runs every phase once under a fresh run ID.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if err := o.startRun(); err != nil {
		return err
	}
	return o.run(ctx, o.phases)
}

// Resume continues from the phase recorded in the checkpoint: after it when
// it completed, from it otherwise. Without a recorded phase it runs all.
func (o *Orchestrator) Resume(ctx context.Context) error {
	pending, err := o.ResumePlan()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		o.logger.Info("Nothing to resume; every phase has completed")
		return nil
	}
	if err := o.startRun(); err != nil {
		return err
	}
	return o.run(ctx, pending)
}

// ResumePlan returns the phases a resume would run.
func (o *Orchestrator) ResumePlan() ([]Phase, error) {
	current, ok := o.checkpoint.Phase()
	if !ok {
		return o.phases, nil
	}
	i, known := o.index[current]
	if !known {
		return nil, fmt.Errorf("resume from %q: %w", current, ErrUnknownPhase)
	}
	if o.checkpoint.IsKeyComplete(CompletionKey(current)) {
		i++
	}
	return o.phases[i:], nil
}

// RunSingle runs exactly one phase. Unless force is set, every dependency
// must have completed in an earlier run.
func (o *Orchestrator) RunSingle(ctx context.Context, name string, force bool) error {
	i, ok := o.index[name]
	if !ok {
		return fmt.Errorf("run %q: %w (known: %s)", name, ErrUnknownPhase, strings.Join(o.Names(), ", "))
	}
	p := o.phases[i]
	var missing []string
	for _, dep := range p.Dependencies {
		if !o.checkpoint.IsKeyComplete(CompletionKey(dep)) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		if !force {
			return fmt.Errorf("run %q: %w: %s", name, ErrDependencyNotMet, strings.Join(missing, ", "))
		}
		o.logger.Warn("Running phase with incomplete dependencies",
			zap.String("phase", name),
			zap.Strings("missing", missing),
		)
	}
	return o.run(ctx, []Phase{p})
}

// Report returns the checkpoint snapshot.
func (o *Orchestrator) Report() state.Report {
	return o.checkpoint.GenerateReport()
}

// Reset clears the checkpoint.
func (o *Orchestrator) Reset() error {
	if err := o.checkpoint.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	o.logger.Info("State reset")
	return nil
}

func (o *Orchestrator) startRun() error {
	if o.ids == nil {
		return nil
	}
	id, err := o.ids.NewID()
	if err != nil {
		return err
	}
	o.logger = o.logger.With(zap.String("run_id", id))
	return o.checkpoint.SetRunID(id)
}

func (o *Orchestrator) run(ctx context.Context, phases []Phase) error {
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := o.logger.With(zap.String("phase", p.Name))
		// A started phase is unfinished until it returns cleanly, even if an
		// earlier run completed it.
		if err := o.checkpoint.ClearKey(CompletionKey(p.Name)); err != nil {
			return err
		}
		if err := o.checkpoint.SetPhase(p.Name); err != nil {
			return err
		}
		log.Info("Phase started")

		start := o.now()
		summary, err := p.Runner.Run(ctx)
		elapsed := o.now().Sub(start)
		metrics.ObservePhaseDuration(p.Name, elapsed)
		fields := append(summary.Fields(), zap.Duration("duration", elapsed))
		if err != nil {
			log.Error("Phase aborted", append(fields, zap.Error(err))...)
			return fmt.Errorf("phase %s: %w", p.Name, err)
		}
		if err := o.checkpoint.MarkKeyComplete(CompletionKey(p.Name)); err != nil {
			return err
		}
		log.Info("Phase finished", fields...)
	}
	return nil
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now()
	}
	return o.clock.Now()
}
