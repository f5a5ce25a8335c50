package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/picturebook/internal/mcptools"
)

func mcpCmd(root *rootOptions) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the generation tools over MCP",
		Long: `Runs an MCP server exposing start_generation, get_progress and
cancel_generation. Uses stdio unless --http is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := a.client(a.cfg.API.BaseURL, a.cfg.API.Token)
			pipeline := a.pipeline(client)
			defer pipeline.Close()
			svc := a.service(pipeline, client)
			defer svc.Cancel()

			server := mcptools.NewMCPServer(mcptools.NewGenerationService(ctx, svc, client))
			if httpAddr != "" {
				a.log.WithField("addr", httpAddr).Info("serving MCP over HTTP")
				return mcptools.RunHTTP(ctx, server, httpAddr)
			}
			return mcptools.RunStdio(ctx, server)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}
