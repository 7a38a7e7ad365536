package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/model"
	flowmem "github.com/flowgrid/flowgrid/service/dao/flow/memory"
	"github.com/flowgrid/flowgrid/service/registry"
)

func TestTickWorker(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	worker := NewTickWorker("test", 10*time.Millisecond, func(_ context.Context) {
		mu.Lock()
		ticks++
		mu.Unlock()
	}, zap.NewNop())

	worker.Start(context.Background())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, 5*time.Millisecond)

	worker.Stop()
	mu.Lock()
	after := ticks
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, ticks, "no sweeps after Stop")
}

func pausedFlow(t *testing.T, store *flowmem.Service, id string, resume *model.ResumeConfig) *model.FlowDefinition {
	t.Helper()
	flow := model.NewFlowDefinition(id, "order", nil)
	flow.Pause(model.PauseExternalDependency, "waiting", resume)
	require.NoError(t, store.Save(context.Background(), flow))
	return flow
}

func TestAutoResumeCondition(t *testing.T) {
	store := flowmem.New()
	ready := false
	pausedFlow(t, store, "f1", model.OnCondition(time.Millisecond, func(_ *model.FlowDefinition) bool {
		return ready
	}))

	var mu sync.Mutex
	var resumed []string
	sweep := NewAutoResume(store, nil, func(_ context.Context, flowID, _ string) error {
		mu.Lock()
		resumed = append(resumed, flowID)
		mu.Unlock()
		return nil
	}, zap.NewNop())

	sweep.Sweep(context.Background())
	mu.Lock()
	assert.Empty(t, resumed, "predicate not satisfied yet")
	mu.Unlock()

	ready = true
	sweep.Sweep(context.Background())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"f1"}, resumed)
}

func TestAutoResumeTimeout(t *testing.T) {
	store := flowmem.New()
	pausedFlow(t, store, "auto", model.OnTimeout(30*time.Minute, true))
	pausedFlow(t, store, "manual", model.OnTimeout(30*time.Minute, false))

	var mu sync.Mutex
	var resumed []string
	sweep := NewAutoResume(store, nil, func(_ context.Context, flowID, _ string) error {
		mu.Lock()
		resumed = append(resumed, flowID)
		mu.Unlock()
		return nil
	}, zap.NewNop())

	sweep.Sweep(context.Background())
	mu.Lock()
	assert.Empty(t, resumed, "timeout not elapsed yet")
	mu.Unlock()

	// Jump the clock past the pause timeout.
	clock.NowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { clock.NowFunc = time.Now }()

	sweep.Sweep(context.Background())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"auto"}, resumed,
		"only the auto-resume policy acts; the other stays paused for intervention")
}

func TestRecoverySweep(t *testing.T) {
	ctx := context.Background()
	store := flowmem.New()

	stale := model.NewFlowDefinition("stale", "order", nil)
	stale.SetStatus(model.StatusRunning)
	stale.LastHeartbeatAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, store.Save(ctx, stale))

	fresh := model.NewFlowDefinition("fresh", "order", nil)
	fresh.SetStatus(model.StatusRunning)
	fresh.Heartbeat()
	require.NoError(t, store.Save(ctx, fresh))

	var mu sync.Mutex
	var recovered []string
	sweep := NewRecovery(store, 2*time.Minute, func(_ context.Context, flowID string) error {
		mu.Lock()
		recovered = append(recovered, flowID)
		mu.Unlock()
		return nil
	}, zap.NewNop())

	sweep.Sweep(ctx)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stale"}, recovered)
}

func TestResolveResumeConfigPrefersDefinition(t *testing.T) {
	reg := registry.New()
	definitionConfig := model.OnEvent("FromDefinition")
	flowType := model.NewFlowType("order",
		model.NewStep("gate", func(_ context.Context, _ *model.FlowDefinition) (*model.StepResult, error) {
			return model.Succeed(""), nil
		}).WithPause(
			func(_ *model.FlowDefinition, _ *model.StepResult) *model.PauseSignal { return nil },
			definitionConfig,
		),
	)
	require.NoError(t, reg.Register(flowType))

	flow := model.NewFlowDefinition("f1", "order", nil)
	flow.SetCurrentStep("gate")
	// Simulate a deserialised instance whose copy lost its predicates.
	flow.Pause(model.PauseExternalDependency, "", &model.ResumeConfig{})

	resolved := ResolveResumeConfig(flow, reg)
	assert.Same(t, definitionConfig, resolved)

	flow.ActiveResumeConfig = nil
	assert.Nil(t, ResolveResumeConfig(flow, reg))
}
