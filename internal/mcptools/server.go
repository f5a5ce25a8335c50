package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the generation tools registered.
func NewMCPServer(svc *GenerationService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "picturebook",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_generation",
		Description: "Start generating a picture book. Writes the story, creates the storybook and starts the illustrations. Cancels any generation already running.",
	}, svc.StartGeneration)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_progress",
		Description: "Report the progress of the active generation, or of a specific storybook when jobId is given.",
	}, svc.GetProgress)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_generation",
		Description: "Cancel the active generation. Pages already drawn are kept by the backend.",
	}, svc.CancelGeneration)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP tools over streamable HTTP on addr.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
