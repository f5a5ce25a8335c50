package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/picturebook/internal/remote"
)

// Compensation describes a workflow that failed after creating remote
// records. Zero ids mean the record was never created.
type Compensation struct {
	FailedStep  Step
	StoryPlotID int64
	StorybookID int64
	Completed   []Step
	Err         error
}

// HasOrphans reports whether any remote record was left behind.
func (c Compensation) HasOrphans() bool {
	return c.StoryPlotID != 0 || c.StorybookID != 0
}

// Compensator cleans up after a failed workflow. It runs detached from
// Run, is never retried and its error is only logged.
type Compensator interface {
	Compensate(ctx context.Context, c Compensation) error
}

// CompensatorFunc adapts a function to Compensator.
type CompensatorFunc func(ctx context.Context, c Compensation) error

// Compensate implements Compensator.
func (f CompensatorFunc) Compensate(ctx context.Context, c Compensation) error {
	return f(ctx, c)
}

// LogCompensator records which orphaned records should be deleted and
// leaves the actual cleanup to the server.
type LogCompensator struct {
	Logger logrus.FieldLogger
}

// Compensate implements Compensator.
func (l LogCompensator) Compensate(_ context.Context, c Compensation) error {
	if l.Logger == nil || !c.HasOrphans() {
		return nil
	}
	l.Logger.WithFields(logrus.Fields{
		"failed_step":   c.FailedStep.String(),
		"story_plot_id": c.StoryPlotID,
		"storybook_id":  c.StorybookID,
	}).Warn("workflow failed with orphaned remote records; scheduling deletion is left to the server")
	return nil
}

// DeletingCompensator issues best-effort deletes for orphaned records.
// The storybook goes first since it references the plot.
type DeletingCompensator struct {
	Deleter remote.Deleter
	Logger  logrus.FieldLogger
}

// Compensate implements Compensator.
func (d DeletingCompensator) Compensate(ctx context.Context, c Compensation) error {
	if d.Deleter == nil {
		return errors.New("compensate: no deleter configured")
	}
	var errs []error
	if c.StorybookID != 0 {
		if err := d.Deleter.DeleteStorybook(ctx, c.StorybookID); err != nil {
			errs = append(errs, fmt.Errorf("delete storybook %d: %w", c.StorybookID, err))
		}
	}
	if c.StoryPlotID != 0 {
		if err := d.Deleter.DeleteStoryPlot(ctx, c.StoryPlotID); err != nil {
			errs = append(errs, fmt.Errorf("delete story plot %d: %w", c.StoryPlotID, err))
		}
	}
	err := errors.Join(errs...)
	if d.Logger != nil && c.HasOrphans() {
		entry := d.Logger.WithFields(logrus.Fields{
			"story_plot_id": c.StoryPlotID,
			"storybook_id":  c.StorybookID,
		})
		if err != nil {
			entry.WithError(err).Warn("orphan cleanup incomplete")
		} else {
			entry.Info("orphaned records deleted")
		}
	}
	return err
}
