package toolpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ypreiser/botgate/domains/profile"
)

func TestOpen_DisabledServersAreSkipped(t *testing.T) {
	pool := Open(context.Background(), []profile.ToolServerConfig{
		{Name: "calc", Command: "/does/not/matter", Enabled: false},
	})
	defer pool.Close()

	assert.Empty(t, pool.Tools())
}

func TestOpen_FailingServerIsOmitted(t *testing.T) {
	pool := Open(context.Background(), []profile.ToolServerConfig{
		{Name: "broken", Command: "/nonexistent/mcp-server-binary", Enabled: true},
	})
	defer pool.Close()

	// The failed server never aborts the open; it is just absent.
	assert.Empty(t, pool.Tools())
}

func TestInvoke_UnknownTool(t *testing.T) {
	pool := Open(context.Background(), nil)
	defer pool.Close()

	_, err := pool.Invoke(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	pool := Open(context.Background(), nil)
	pool.Close()
	pool.Close()

	_, err := pool.Invoke(context.Background(), "x", nil)
	assert.Error(t, err)
}
