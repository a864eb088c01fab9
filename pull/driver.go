package pull

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Driver pulls a list of resources and then runs the build step.
type Driver struct {
	Processor *Processor
	// Build runs after every resource succeeded; nil skips it.
	Build     *BuildStep
	SkipBuild bool

	// Stdout and Stderr receive the build output (default: process streams).
	Stdout io.Writer
	Stderr io.Writer
}

// Run processes resources in order. The first failure aborts the run, so
// the build only ever sees a complete set of pulled files.
func (d *Driver) Run(ctx context.Context, resources []Resource) ([]Summary, error) {
	log := d.Processor.logger()

	summaries := make([]Summary, 0, len(resources))
	for _, r := range resources {
		sum, err := d.Processor.Process(ctx, r)
		summaries = append(summaries, sum)
		if err != nil {
			return summaries, fmt.Errorf("resource %s: %w", r.ID, err)
		}
		log.Info("resource done", "resource", r.ID, "written", sum.Written, "unchanged", sum.Unchanged)
	}

	if lock := d.Processor.Lock; lock != nil {
		if err := lock.Save(); err != nil {
			return summaries, err
		}
		log.Debug("lock file saved", "path", lock.Path(), "summary", lock.Summary())
	}

	if d.Build == nil || d.SkipBuild {
		return summaries, nil
	}
	if err := d.runBuild(ctx, log); err != nil {
		return summaries, err
	}
	return summaries, nil
}

func (d *Driver) runBuild(ctx context.Context, log *slog.Logger) error {
	log.Info("running build", "command", d.Build.Command, "dir", d.Build.Dir)

	cmd := exec.CommandContext(ctx, "sh", "-c", d.Build.Command)
	cmd.Dir = d.Build.Dir
	cmd.Stdout = d.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = d.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %q failed: %w", d.Build.Command, err)
	}
	return nil
}
