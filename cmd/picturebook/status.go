package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/picturebook/internal/poller"
	"github.com/dusk-indust/picturebook/internal/remote"
	"github.com/dusk-indust/picturebook/internal/status"
)

func statusCmd(root *rootOptions) *cobra.Command {
	var (
		watch  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status <storybook-id>",
		Short: "Show the drawing progress of a storybook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || jobID <= 0 {
				return fmt.Errorf("invalid storybook id %q", args[0])
			}
			a, err := newApp(root)
			if err != nil {
				return err
			}
			client := a.client(a.cfg.API.BaseURL, a.cfg.API.Token)

			out := cmd.OutOrStdout()
			if !watch {
				snap, err := client.FetchProgress(cmd.Context(), jobID)
				if err != nil {
					return fmt.Errorf("fetch progress: %s", remote.UserMessage(err))
				}
				return printStatus(out, status.Describe(*snap), asJSON)
			}
			return watchStatus(cmd.Context(), a, client, jobID, out, asJSON)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling until the job completes or fails")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

// watchStatus prints every polled snapshot until the job is terminal.
func watchStatus(ctx context.Context, a *app, f poller.Fetcher, jobID int64, w io.Writer, asJSON bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failure error
	p := poller.New(f, a.pollerConfig())
	p.Start(ctx, jobID, poller.Callbacks{
		OnSnapshot: func(snap remote.ProgressSnapshot) {
			_ = printStatus(w, status.Describe(snap), asJSON)
		},
		OnFailed: func(message string) {
			failure = remote.JobFailed(message)
		},
		OnFetchError: func(err error) {
			a.log.WithError(err).Warn("progress fetch failed; retrying")
		},
	})
	p.Wait()

	if failure != nil {
		return failure
	}
	if ctx.Err() != nil {
		return remote.Cancelled(ctx.Err())
	}
	return nil
}

func printStatus(w io.Writer, info status.JobInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		return enc.Encode(info)
	}
	line := info.Summary()
	if len(info.Previews) > 0 {
		pages := make([]string, len(info.Previews))
		for i, p := range info.Previews {
			pages[i] = strconv.Itoa(p)
		}
		line += " [previews: " + strings.Join(pages, ", ") + "]"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
