package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/testutil"
	"github.com/BaSui01/agentdispatch/testutil/fixtures"
	"github.com/BaSui01/agentdispatch/types"
)

func TestMemoryRegistry_Queries(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	busy := fixtures.CodeAgent("busy")
	busy.CurrentTasks = busy.MaxConcurrentTasks
	reg.Upsert(fixtures.CodeAgent("code-1"), busy, fixtures.WriterAgent("writer-1"),
		fixtures.NewAgent("off", types.AgentTypeGeneral, fixtures.WithStatus(types.AgentStatusInactive)))
	ctx := testutil.TestContext(t)

	available, err := reg.GetAvailableAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1", "writer-1"}, ids(available))

	active, err := reg.GetActiveAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1", "busy", "writer-1"}, ids(active))

	byType, err := reg.GetAgentsByType(ctx, types.AgentTypeCode)
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1", "busy"}, ids(byType))

	withCaps, err := reg.GetAgentsWithCapabilities(ctx, []string{"COPYWRITING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"writer-1"}, ids(withCaps))

	_, err = reg.GetByID(ctx, "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrAgentNotFound))
}

func TestMemoryRegistry_ReturnsCopies(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Upsert(fixtures.CodeAgent("a"))
	ctx := context.Background()

	got, err := reg.GetByID(ctx, "a")
	require.NoError(t, err)
	got.CurrentTasks = 99
	got.Capabilities[0] = "mutated"

	again, err := reg.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, again.CurrentTasks)
	assert.Equal(t, "code-generation", again.Capabilities[0])
}

func TestMemoryRegistry_UpdateAndRemove(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	reg.Upsert(fixtures.CodeAgent("a"), fixtures.CodeAgent("b"))
	ctx := context.Background()

	require.NoError(t, reg.UpdateLoad("a", 3))
	a, _ := reg.GetByID(ctx, "a")
	assert.Equal(t, 3, a.CurrentTasks)
	assert.WithinDuration(t, time.Now(), a.LastActiveAt, time.Second)

	require.NoError(t, reg.SetStatus("b", types.AgentStatusMaintenance))
	assert.Error(t, reg.UpdateLoad("zzz", 1))
	assert.Error(t, reg.SetStatus("zzz", types.AgentStatusActive))

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.Equal(t, 1, reg.Len())
}

func TestMemoryRegistry_CancelledContext(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	_, err := reg.GetAvailableAgents(testutil.CancelledContext())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryRegistry_LoadRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: coder
    name: Coder
    type: code
    capabilities: [code-generation]
    max_concurrent_tasks: 4
    avg_response_time: 1500ms
    specializations:
      - domain: code
        subdomain: go
        skill_level: 8
        confidence: 0.9
  - id: idle
    type: general
    status: maintenance
    max_concurrent_tasks: 1
`), 0o600))

	reg := NewMemoryRegistry(nil)
	n, err := reg.LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	coder, err := reg.GetByID(context.Background(), "coder")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusActive, coder.Status)
	assert.Equal(t, 1500*time.Millisecond, coder.AvgResponseTime)
	require.Len(t, coder.Specializations, 1)
	assert.Equal(t, 8, coder.Specializations[0].SkillLevel)

	idle, err := reg.GetByID(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusMaintenance, idle.Status)
}

func TestMemoryRegistry_LoadRosterErrors(t *testing.T) {
	reg := NewMemoryRegistry(nil)
	_, err := reg.LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: no-id\n"), 0o600))
	_, err = reg.LoadRoster(path)
	assert.ErrorContains(t, err, "has no id")
	assert.Zero(t, reg.Len())
}

func ids(agents []*types.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
