package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/picturebook/internal/generation"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/presenter"
	"github.com/dusk-indust/picturebook/internal/render"
)

type generateOptions struct {
	settingID int64
	theme     string
	pages     int
	childID   int64
	simulate  bool
	failPage  int
	plain     bool
	width     int
}

func generateCmd(root *rootOptions) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a picture book and show its progress",
		Long: `Writes the story, creates the storybook and starts the illustrations,
then follows the drawing progress until the book is ready.

With --simulate the book is generated against an in-process simulated
backend instead of the configured API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), a, opts, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Int64Var(&opts.settingID, "setting", 0, "story setting id")
	cmd.Flags().StringVar(&opts.theme, "theme", "", "story theme")
	cmd.Flags().IntVar(&opts.pages, "pages", 8, "number of pages")
	cmd.Flags().Int64Var(&opts.childID, "child", 0, "child profile id (optional)")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "run against an in-process simulated backend")
	cmd.Flags().IntVar(&opts.failPage, "fail-page", 0, "with --simulate, fail the job at this page")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print progress lines instead of redrawing in place")
	cmd.Flags().IntVar(&opts.width, "width", 40, "progress bar width")
	_ = cmd.MarkFlagRequired("setting")
	_ = cmd.MarkFlagRequired("theme")
	return cmd
}

func (o generateOptions) input() orchestrator.Input {
	in := orchestrator.Input{SettingID: o.settingID, Theme: o.theme, PageCount: o.pages}
	if o.childID != 0 {
		child := o.childID
		in.ChildID = &child
	}
	return in
}

func runGenerate(ctx context.Context, a *app, opts generateOptions, w io.Writer) error {
	in := opts.input()
	if err := in.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	baseURL, token := a.cfg.API.BaseURL, a.cfg.API.Token
	if opts.simulate {
		sim := a.simServer(opts.failPage)
		ready := make(chan string, 1)
		g.Go(func() error { return sim.Run(serveCtx, "127.0.0.1:0", ready) })
		select {
		case addr := <-ready:
			baseURL, token = "http://"+addr, a.cfg.Sim.Token
		case <-gctx.Done():
			return g.Wait()
		}
	}
	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return a.serveMetrics(serveCtx, addr) })
	}

	client := a.client(baseURL, token)
	pipeline := a.pipeline(client)
	svc := a.service(pipeline, client)

	interactive := render.DetectInteractive(opts.plain)
	render.ConfigureColor(interactive)
	v := newViewer(w, render.New(opts.width), interactive)

	sess := svc.StartGeneration(gctx, in)
	out := v.follow(sess, pipeline.Progress())

	svc.Cancel()
	pipeline.Close()
	stopServing()
	if err := g.Wait(); err != nil {
		return err
	}
	if !out.OK() {
		return out.Err
	}
	return nil
}

// viewer writes session progress to a terminal or a log-style stream.
type viewer struct {
	w           io.Writer
	r           *render.Renderer
	interactive bool

	lastPercent int
	lastMessage string
}

func newViewer(w io.Writer, r *render.Renderer, interactive bool) *viewer {
	return &viewer{w: w, r: r, interactive: interactive, lastPercent: -1}
}

// follow renders states and step events until the session ends.
func (v *viewer) follow(sess *generation.Session, steps <-chan orchestrator.ProgressEvent) generation.Outcome {
	states := sess.States()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			v.state(st)
		case ev, ok := <-steps:
			if !ok {
				steps = nil
				continue
			}
			if ev.Status != orchestrator.ProgressPending {
				v.line(render.Step(ev))
			}
		case out := <-sess.Done():
			// The stream closes once the session tears down.
			if states != nil {
				for st := range states {
					v.state(st)
				}
			}
			if v.interactive {
				fmt.Fprint(v.w, "\r\033[2K")
			}
			fmt.Fprintln(v.w, render.Outcome(out))
			return out
		}
	}
}

func (v *viewer) state(st presenter.State) {
	if st.Phase == presenter.PhaseIdle {
		return
	}
	if v.interactive {
		fmt.Fprint(v.w, "\r\033[2K"+v.r.Line(st))
		return
	}
	if st.Percent() == v.lastPercent && st.StepMessage == v.lastMessage {
		return
	}
	v.lastPercent, v.lastMessage = st.Percent(), st.StepMessage
	fmt.Fprintln(v.w, v.r.Line(st))
}

// line prints s on its own line without disturbing the redrawn bar.
func (v *viewer) line(s string) {
	if v.interactive {
		fmt.Fprint(v.w, "\r\033[2K")
	}
	fmt.Fprintln(v.w, s)
}
