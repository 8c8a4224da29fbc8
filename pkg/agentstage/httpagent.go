package agentstage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxToolRounds caps the number of request/response rounds one invocation
// may spend serving tool calls. A remote agent still asking for tools after
// this many rounds is looping.
const maxToolRounds = 16

// HTTPAgent adapts a remote agent service to the Agent interface. The
// protocol is a single POST endpoint: the request carries the task (and,
// on follow-up rounds, the results of requested tool calls); the response
// carries either final text with usage details or a batch of tool calls to
// execute against the local dispatch table.
type HTTPAgent struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAgent binds the agent to endpoint. A nil-safe default client with
// no overall timeout is used: invocation deadlines come from the caller's
// context, and the stage executor owns retries.
func NewHTTPAgent(endpoint string) *HTTPAgent {
	return &HTTPAgent{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 0},
	}
}

type agentRequest struct {
	Task        string           `json:"task"`
	ToolResults []agentToolReply `json:"tool_results,omitempty"`
}

type agentToolReply struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

type agentToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type agentResponse struct {
	Text         string          `json:"text"`
	UsageDetails map[string]any  `json:"usage_details,omitempty"`
	ToolCalls    []agentToolCall `json:"tool_calls,omitempty"`
}

// Invoke posts task to the remote agent and serves its tool calls from
// tools until the agent returns final text.
func (a *HTTPAgent) Invoke(ctx context.Context, task string, tools map[string]ToolHandler) (Result, error) {
	req := agentRequest{Task: task}
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := a.post(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if len(resp.ToolCalls) == 0 {
			return Result{Text: resp.Text, Usage: resp.UsageDetails}, nil
		}

		replies := make([]agentToolReply, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			replies = append(replies, agentToolReply{
				ID:     call.ID,
				Result: dispatchTool(ctx, tools, call),
			})
		}
		req = agentRequest{Task: task, ToolResults: replies}
	}
	return Result{}, fmt.Errorf("agentstage: agent exceeded %d tool rounds", maxToolRounds)
}

// dispatchTool resolves one tool call. Unknown tools and payload
// validation failures come back as structured error JSON the agent can
// read and correct; infrastructure errors are reported the same way since
// the transport has no other channel back to the remote reasoning loop.
func dispatchTool(ctx context.Context, tools map[string]ToolHandler, call agentToolCall) string {
	handler, ok := tools[call.Name]
	if !ok {
		out, _ := errJSON("unknown tool %q", call.Name)
		return out
	}
	result, err := handler(ctx, call.Arguments)
	if err != nil {
		out, _ := errJSON("tool %s failed: %v", call.Name, err)
		return out
	}
	return result
}

func (a *HTTPAgent) post(ctx context.Context, payload agentRequest) (*agentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("agentstage: marshal agent request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentstage: build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentstage: call agent: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("agentstage: agent returned %d after %s: %s",
			httpResp.StatusCode, time.Since(start).Round(time.Millisecond), snippet)
	}

	var resp agentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("agentstage: decode agent response: %w", err)
	}
	return &resp, nil
}
