package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dusk-indust/picturebook/internal/logging"
	"github.com/dusk-indust/picturebook/internal/metrics"
)

const (
	defaultKickTimeout         = time.Minute
	defaultCompensationTimeout = 30 * time.Second
)

// Config holds the collaborators and limits of a Pipeline. Zero values
// are replaced with defaults by NewPipeline.
type Config struct {
	// Logger receives workflow logs. Defaults to a discarding logger.
	Logger logrus.FieldLogger

	// Tracer records one span per step. Defaults to the global tracer.
	Tracer trace.Tracer

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Compensator is invoked after step 1 or 2 fails. Defaults to
	// LogCompensator, which only records intent.
	Compensator Compensator

	// KickTimeout bounds the detached image-generation kick.
	KickTimeout time.Duration

	// CompensationTimeout bounds one compensation hook invocation.
	CompensationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Compensator == nil {
		c.Compensator = LogCompensator{Logger: c.Logger}
	}
	if c.KickTimeout <= 0 {
		c.KickTimeout = defaultKickTimeout
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = defaultCompensationTimeout
	}
	return c
}
