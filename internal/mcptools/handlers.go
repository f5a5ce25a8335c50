package mcptools

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/picturebook/internal/generation"
	"github.com/dusk-indust/picturebook/internal/orchestrator"
	"github.com/dusk-indust/picturebook/internal/poller"
	"github.com/dusk-indust/picturebook/internal/remote"
	"github.com/dusk-indust/picturebook/internal/render"
	"github.com/dusk-indust/picturebook/internal/status"
)

// GenerationService handles MCP tool calls. Sessions outlive the tool call
// that started them, so they run under the service's base context.
type GenerationService struct {
	base    context.Context
	gen     *generation.Service
	fetcher poller.Fetcher
}

// NewGenerationService creates a GenerationService. Sessions are cancelled
// when base is.
func NewGenerationService(base context.Context, gen *generation.Service, fetcher poller.Fetcher) *GenerationService {
	return &GenerationService{base: base, gen: gen, fetcher: fetcher}
}

// StartGeneration validates the input and starts a session, replacing any
// active one.
func (s *GenerationService) StartGeneration(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input StartGenerationInput,
) (*mcp.CallToolResult, StartGenerationOutput, error) {
	in := orchestrator.Input{
		SettingID: input.SettingID,
		Theme:     input.Theme,
		PageCount: input.PageCount,
	}
	if input.ChildID != 0 {
		child := input.ChildID
		in.ChildID = &child
	}
	if err := in.Validate(); err != nil {
		return nil, StartGenerationOutput{}, err
	}

	sess := s.gen.StartGeneration(s.base, in)
	return nil, StartGenerationOutput{SessionID: sess.ID(), Status: "started"}, nil
}

// GetProgress reports either the active session or, when a job id is
// given, the raw backend status of that job.
func (s *GenerationService) GetProgress(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetProgressInput,
) (*mcp.CallToolResult, GetProgressOutput, error) {
	if input.JobID > 0 {
		snap, err := s.fetcher.FetchProgress(ctx, input.JobID)
		if err != nil {
			return nil, GetProgressOutput{}, fmt.Errorf("fetch progress for %d: %s", input.JobID, remote.UserMessage(err))
		}
		info := status.Describe(*snap)
		return nil, GetProgressOutput{
			JobID:    info.JobID,
			Phase:    info.Label,
			Percent:  info.Percent,
			Message:  info.Summary(),
			Previews: info.Previews,
			Done:     info.Terminal,
		}, nil
	}

	sess := s.gen.Active()
	if sess == nil {
		return nil, GetProgressOutput{Phase: "idle", Done: true}, nil
	}

	st := sess.State()
	out := GetProgressOutput{
		SessionID: sess.ID(),
		JobID:     sess.JobID(),
		Phase:     st.Phase.String(),
		Percent:   st.Percent(),
		Message:   st.StepMessage,
		Hint:      st.Hint,
		Previews:  pages(st.Previews),
		Error:     st.ErrorMessage,
	}
	if st.Active() {
		out.Remaining = render.Remaining(st.EstimatedRemaining, st.HasEstimate)
	}
	if res, ok := sess.Result(); ok {
		out.Done = true
		if res.OK() {
			out.Percent = 100
			out.Message = res.Message
		} else {
			out.Error = res.Message
		}
	}
	return nil, out, nil
}

// CancelGeneration tears down the active session, if any.
func (s *GenerationService) CancelGeneration(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ CancelGenerationInput,
) (*mcp.CallToolResult, CancelGenerationOutput, error) {
	sess := s.gen.Active()
	if sess == nil {
		return nil, CancelGenerationOutput{}, nil
	}
	_, finished := sess.Result()
	s.gen.Cancel()
	return nil, CancelGenerationOutput{SessionID: sess.ID(), Cancelled: !finished}, nil
}

func pages(previews map[int]string) []int {
	if len(previews) == 0 {
		return nil
	}
	out := make([]int, 0, len(previews))
	for p := range previews {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
