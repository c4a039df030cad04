package tenant

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/jobs"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup := NewSupervisor(Options{
		SnapshotsDir: t.TempDir(),
		Engine:       engine.DefaultOptions(),
		Jobs:         jobs.Config{QueueCapacity: 256, SessionIdle: 20 * time.Millisecond},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return sup
}

func quiesce(t *testing.T, sup *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Pipeline().Quiesce(ctx))
}

func TestScenarioSingleCueRecall(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("")
	require.NoError(t, err)
	require.Equal(t, DefaultTenant, c.ID)

	ctx := context.Background()
	food, err := c.AddMemory(ctx, "pasta carbonara for dinner", []string{"food", "italian"})
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "the sky is very blue", []string{"color", "blue"})
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "hired as an engineer", []string{"work", "engineer"})
	require.NoError(t, err)
	quiesce(t, sup)

	results := c.Recall(ctx, RecallRequest{Cues: []string{"food"}, Limit: 10})
	require.Len(t, results, 1)
	assert.Equal(t, food.ID, results[0].ID)
	assert.Equal(t, 1, results[0].IntersectionCount)
}

// The lexicon scenario pair: text queries resolve through trained rows,
// and reinforcement flips the ranking.
func TestScenarioTextQueryAndReinforcement(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("lexicon-test")
	require.NoError(t, err)

	ctx := context.Background()
	m1, err := c.AddMemory(ctx, "payment gateway timeout observed", []string{"payment", "timeout"})
	require.NoError(t, err)
	m2, err := c.AddMemory(ctx, "checkout got sluggish today", []string{"payment", "slow"})
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "database replica lag alert", []string{"database", "timeout"})
	require.NoError(t, err)
	quiesce(t, sup)

	req := RecallRequest{QueryText: "payment timeout", Limit: 10}

	t.Run("double hit ranks first", func(t *testing.T) {
		results := c.Recall(ctx, req)
		require.NotEmpty(t, results)
		assert.Equal(t, m1.ID, results[0].ID)
		assert.Equal(t, 2, results[0].IntersectionCount)
	})

	t.Run("reinforcement outranks intersection", func(t *testing.T) {
		for i := 0; i < 15; i++ {
			_, err := c.Reinforce(m2.ID, nil)
			require.NoError(t, err)
		}
		results := c.Recall(ctx, req)
		require.NotEmpty(t, results)
		assert.Equal(t, m2.ID, results[0].ID)
		assert.InDelta(t, math.Log10(16), results[0].ReinforcementScore, 1e-9)
	})
}

func TestScenarioAliasExpansion(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("alias-test")
	require.NoError(t, err)

	ctx := context.Background()
	m1, err := c.AddMemory(ctx, "invoice charge failed", []string{"payment", "timeout"})
	require.NoError(t, err)
	m2, err := c.AddMemory(ctx, "slow checkout flow", []string{"payment", "slow"})
	require.NoError(t, err)
	quiesce(t, sup)

	c.Aliases.Add("pay", "payment", 0.85)

	results := c.Recall(ctx, RecallRequest{Cues: []string{"pay"}, Limit: 10})
	require.Len(t, results, 2)
	got := map[string]float64{}
	for _, r := range results {
		got[r.ID] = r.IntersectionWeighted
	}
	assert.InDelta(t, 0.85, got[m1.ID], 1e-9)
	assert.InDelta(t, 0.85, got[m2.ID], 1e-9)

	t.Run("aliases never touch stored cues", func(t *testing.T) {
		mem, _, err := c.GetMemory(m1.ID)
		require.NoError(t, err)
		assert.NotContains(t, mem.Cues, "pay")
	})
}

func TestScenarioSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		SnapshotsDir: dir,
		Engine:       engine.DefaultOptions(),
		Jobs:         jobs.Config{QueueCapacity: 256, SessionIdle: 20 * time.Millisecond},
	}
	sup := NewSupervisor(opts)
	c, err := sup.Get("persist")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.AddMemory(ctx, "payment gateway timeout observed", []string{"payment", "timeout"})
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "slow checkout flow", []string{"payment", "slow"})
	require.NoError(t, err)
	quiesce(t, sup)
	c.Aliases.Add("pay", "payment", 0.85)

	query := RecallRequest{Cues: []string{"pay"}, Limit: 10, Explain: true}
	want := c.Recall(ctx, query)
	require.NotEmpty(t, want)

	for id, err := range sup.SaveAll() {
		require.NoError(t, err, "save %s", id)
	}
	require.NoError(t, sup.Shutdown(ctx))

	fresh := NewSupervisor(opts)
	t.Cleanup(func() { fresh.Shutdown(context.Background()) })
	for id, err := range fresh.LoadAll() {
		require.NoError(t, err, "load %s", id)
	}
	c2, ok := fresh.Peek("persist")
	require.True(t, ok)

	got := c2.Recall(ctx, query)
	assert.True(t, reflect.DeepEqual(want, got), "recall diverged after snapshot round trip")
	assert.Positive(t, c2.Lex.Engine().TotalMemories(), "lexicon not restored")
	assert.Equal(t, 1, c2.Aliases.Len(), "aliases not restored")
}

func TestWriteWithoutCuesTokenizes(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("tokens")
	require.NoError(t, err)

	ctx := context.Background()
	res, err := c.AddMemory(ctx, "kafka consumer rebalancing storm", nil)
	require.NoError(t, err)
	assert.Contains(t, res.AcceptedCues, "tok:kafka")
	quiesce(t, sup)

	// The derived bare-value cue makes the memory findable by word.
	results := c.Recall(ctx, RecallRequest{Cues: []string{"kafka"}, Limit: 5})
	require.Len(t, results, 1)
	assert.Equal(t, res.ID, results[0].ID)
}

func TestRejectedCuesReported(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("taxed")
	require.NoError(t, err)
	c.Taxonomy.AllowedKeys = []string{"env"}

	res, err := c.AddMemory(context.Background(), "deploy note", []string{"env:prod", "owner:me", "plain"})
	require.NoError(t, err)
	assert.Contains(t, res.AcceptedCues, "env:prod")
	assert.Contains(t, res.AcceptedCues, "plain")
	require.Len(t, res.RejectedCues, 1)
	assert.Equal(t, "owner:me", res.RejectedCues[0].Cue)
}

func TestRecallEmptySemantics(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("empty")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.AddMemory(ctx, "lone memory", []string{"lone"})
	require.NoError(t, err)
	quiesce(t, sup)

	assert.Empty(t, c.Recall(ctx, RecallRequest{Limit: 10}))
	assert.Empty(t, c.Recall(ctx, RecallRequest{Cues: []string{"unknown"}, Limit: 10}))
	assert.Empty(t, c.Recall(ctx, RecallRequest{Cues: []string{"lone"}, Limit: 0}))
}

func TestAutoReinforceIsDeferred(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("deferred")
	require.NoError(t, err)

	ctx := context.Background()
	res, err := c.AddMemory(ctx, "reinforce me please", []string{"target"})
	require.NoError(t, err)
	quiesce(t, sup)

	results := c.Recall(ctx, RecallRequest{Cues: []string{"target"}, Limit: 5, AutoReinforce: true})
	require.Len(t, results, 1)
	// The recall itself returned pre-reinforcement state.
	assert.EqualValues(t, 0, results[0].ReinforcementScore)

	quiesce(t, sup)
	mem, _, err := c.GetMemory(res.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, mem.ReinforcementCount)
}

func TestVerifyFilePrunesOnlyAgentMemories(t *testing.T) {
	sup := newTestSupervisor(t)
	c, err := sup.Get("agent")
	require.NoError(t, err)

	c.ExtractAndIngest("file:chunk-1", "first chunk of notes", "docs/a.md")
	c.ExtractAndIngest("file:chunk-2", "second chunk of notes", "docs/a.md")
	userRes, err := c.AddMemory(context.Background(), "my own note", []string{"path:docs/a.md"})
	require.NoError(t, err)
	quiesce(t, sup)

	pruned := c.VerifyFile("docs/a.md", []string{"file:chunk-1"})
	assert.Equal(t, 1, pruned)

	_, _, err = c.GetMemory("file:chunk-1")
	assert.NoError(t, err)
	_, _, err = c.GetMemory("file:chunk-2")
	assert.Error(t, err)
	_, _, err = c.GetMemory(userRes.ID)
	assert.NoError(t, err, "caller-authored memory must survive verification")
}

func TestTenantIsolation(t *testing.T) {
	sup := newTestSupervisor(t)
	a, err := sup.Get("team-a")
	require.NoError(t, err)
	b, err := sup.Get("team-b")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = a.AddMemory(ctx, "alpha secret", []string{"secret"})
	require.NoError(t, err)
	quiesce(t, sup)

	assert.Empty(t, b.Recall(ctx, RecallRequest{Cues: []string{"secret"}, Limit: 5}))
	assert.NotEmpty(t, a.Recall(ctx, RecallRequest{Cues: []string{"secret"}, Limit: 5}))
}

func TestValidTenantID(t *testing.T) {
	assert.True(t, ValidTenantID("team-a_1"))
	assert.False(t, ValidTenantID("ab"))
	assert.False(t, ValidTenantID("has space"))
	assert.False(t, ValidTenantID("dot.dot"))

	_, err := sup_invalid()
	assert.Error(t, err)
}

func sup_invalid() (*Context, error) {
	sup := NewSupervisor(Options{SnapshotsDir: "", Engine: engine.DefaultOptions()})
	defer sup.Shutdown(context.Background())
	return sup.Get("!!bad!!")
}

func TestGlobalStats(t *testing.T) {
	sup := newTestSupervisor(t)
	a, _ := sup.Get("stats-a")
	b, _ := sup.Get("stats-b")
	ctx := context.Background()
	a.AddMemory(ctx, "one", []string{"x"})
	b.AddMemory(ctx, "two", []string{"y"})
	quiesce(t, sup)

	stats := sup.GlobalStats()
	assert.Equal(t, 2, stats["total_projects"])
	assert.Equal(t, 2, stats["total_memories"])
}
