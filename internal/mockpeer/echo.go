package mockpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
)

// EchoSessionID is the session id EchoAgent hands out.
const EchoSessionID = "echo-session"

// EchoAgent is an ACP agent that streams each prompt back as a JSON
// {"echo": text} agent message and ends the turn.
type EchoAgent struct {
	conn *acp.AgentSideConnection

	mu      sync.Mutex
	prompts []string
}

var _ acp.Agent = (*EchoAgent)(nil)

// Serve speaks ACP on r/w until ctx is done or the client hangs up.
func (a *EchoAgent) Serve(ctx context.Context, w io.Writer, r io.Reader) {
	asc := acp.NewAgentSideConnection(a, w, r)
	a.mu.Lock()
	a.conn = asc
	a.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-asc.Done():
	}
}

// Prompts lists the text of every prompt received.
func (a *EchoAgent) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

func (a *EchoAgent) Initialize(_ context.Context, _ acp.InitializeRequest) (acp.InitializeResponse, error) {
	return acp.InitializeResponse{
		ProtocolVersion:   acp.ProtocolVersionNumber,
		AgentCapabilities: acp.AgentCapabilities{LoadSession: false},
	}, nil
}

func (a *EchoAgent) Authenticate(_ context.Context, _ acp.AuthenticateRequest) (acp.AuthenticateResponse, error) {
	return acp.AuthenticateResponse{}, nil
}

func (a *EchoAgent) NewSession(_ context.Context, _ acp.NewSessionRequest) (acp.NewSessionResponse, error) {
	return acp.NewSessionResponse{SessionId: EchoSessionID}, nil
}

func (a *EchoAgent) SetSessionMode(_ context.Context, _ acp.SetSessionModeRequest) (acp.SetSessionModeResponse, error) {
	return acp.SetSessionModeResponse{}, nil
}

func (a *EchoAgent) Cancel(_ context.Context, _ acp.CancelNotification) error {
	return nil
}

func (a *EchoAgent) Prompt(ctx context.Context, req acp.PromptRequest) (acp.PromptResponse, error) {
	text := promptText(req.Prompt)

	a.mu.Lock()
	a.prompts = append(a.prompts, text)
	conn := a.conn
	a.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"echo": text})
	if err != nil {
		return acp.PromptResponse{}, fmt.Errorf("echo: marshal: %w", err)
	}

	if err := conn.SessionUpdate(ctx, acp.SessionNotification{
		SessionId: req.SessionId,
		Update:    acp.UpdateAgentMessageText(string(payload)),
	}); err != nil {
		return acp.PromptResponse{}, err
	}

	return acp.PromptResponse{StopReason: acp.StopReasonEndTurn}, nil
}

func promptText(blocks []acp.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Text != nil {
			b.WriteString(block.Text.Text)
		}
	}
	if b.Len() == 0 {
		return "(no input)"
	}
	return b.String()
}
