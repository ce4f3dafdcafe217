package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/mockpeer"
	"github.com/ricochet1k/iflowacp/pkg/iflow"
)

func TestLoadOptionsFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: 30s\npermission_mode: manual\ncwd: /from/config\n"), 0o644))

	t.Cleanup(func() {
		configPath, wsURL, noAutoStart, timeout = "", "", false, config.DefaultTimeout
	})

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, flags.Parse([]string{
		"--config", path,
		"--timeout", "7s",
		"--url", "ws://agent.internal:9000/acp",
		"--no-auto-start",
	}))

	opts, err := loadOptions(flags)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.Equal(t, config.PermissionManual, opts.PermissionMode)
	assert.Equal(t, "/from/config", opts.Cwd)
	assert.False(t, opts.Process.AutoStart)
	require.NotNil(t, opts.WebSocket)
	assert.Equal(t, "ws://agent.internal:9000/acp", opts.WebSocket.URL)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	events := []iflow.Event{
		domain.NewAssistantTextEvent("s", "hello"),
		domain.NewToolCallEvent("s", "c1", "read", "completed"),
		domain.NewPlanEvent("s", []domain.PlanEntry{{Content: "step", Priority: domain.PlanPriorityHigh, Status: domain.PlanStatusPending}}),
		domain.NewTaskFinishedEvent("s", "end_turn"),
	}
	for _, ev := range events {
		require.NoError(t, printEvent(&buf, ev))
	}
	assert.Equal(t, "hello\n[tool c1] read (completed)\n[plan high/pending] step\n\n[finished: end_turn]\n", buf.String())
}

func TestProbe(t *testing.T) {
	srv := mockpeer.New(mockpeer.Script{}, zaptest.NewLogger(t))
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"probe", "--port", fmt.Sprint(srv.Port())})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "listening")
}
