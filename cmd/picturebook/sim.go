package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func simCmd(root *rootOptions) *cobra.Command {
	var (
		addr         string
		pageDuration time.Duration
		failPage     int
		token        string
	)

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the simulated generation backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Sim.Addr = addr
			}
			if pageDuration > 0 {
				a.cfg.Sim.PageDuration = pageDuration
			}
			if token != "" {
				a.cfg.Sim.Token = token
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.simServer(failPage).Run(gctx, a.cfg.Sim.Addr, nil) })
			if metricsAddr := a.cfg.Metrics.Addr; metricsAddr != "" {
				g.Go(func() error { return a.serveMetrics(gctx, metricsAddr) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&pageDuration, "page-duration", 0, "time to draw one page")
	cmd.Flags().IntVar(&failPage, "fail-page", 0, "fail every job at this page")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token")
	return cmd
}
