package flowgrid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/auth"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
	"github.com/flowgrid/flowgrid/service/event"
	"github.com/flowgrid/flowgrid/service/executor"
	"github.com/flowgrid/flowgrid/service/limiter"
	"github.com/flowgrid/flowgrid/service/registry"
)

func newEngine(t *testing.T, options ...Option) *Service {
	t.Helper()
	options = append([]Option{WithLogger(zap.NewNop())}, options...)
	engine, err := New(options...)
	require.NoError(t, err)
	return engine
}

// orderFlowType is a small checkout pipeline used across the engine tests.
func orderFlowType() *model.FlowType {
	return model.NewFlowType("order",
		model.NewStep("validate", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("validated", true)
			return model.Succeed("validated"), nil
		}),
		model.NewStep("charge", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("charged", true)
			return model.Succeed("charged"), nil
		}).WithDependsOn("validate"),
		model.NewStep("ship", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("shipped", true)
			return model.Succeed("shipped"), nil
		}).WithDependsOn("charge"),
	)
}

func TestNewDefaults(t *testing.T) {
	engine := newEngine(t)
	assert.NotNil(t, engine.Runtime())
	assert.NotNil(t, engine.Events())
	assert.NotNil(t, engine.Approvals())
	assert.Equal(t, DefaultConfig().MaxConcurrentFlows, engine.LimiterStatus().MaxSlots)
	assert.Zero(t, engine.LimiterStatus().Active)
	assert.Zero(t, engine.SubmissionStats())
}

func TestStartRunsFlowToCompletion(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(orderFlowType()))

	summary, err := engine.Runtime().Start(ctx, "order",
		map[string]interface{}{"amount": 100.0},
		WithUser("alice"), WithCorrelation("corr-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, summary.Status)
	assert.Equal(t, "alice", summary.UserID)
	assert.Equal(t, "corr-1", summary.CorrelationID)
	assert.Equal(t, true, summary.Output["validated"])
	assert.Equal(t, true, summary.Output["shipped"])
	assert.NotNil(t, summary.CompletedAt)

	records, err := engine.Runtime().StepRecords(ctx, summary.FlowID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStartUnknownFlowType(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Runtime().Start(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, registry.ErrUnknownFlowType)
}

func TestStartUnauthorized(t *testing.T) {
	engine := newEngine(t, WithAuthorizer(&auth.ListAuthorizer{
		FlowBlockList: []string{"mallory:*"},
	}))
	require.NoError(t, engine.Register(orderFlowType()))

	_, err := engine.Runtime().Start(context.Background(), "order", nil, WithUser("mallory"))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestPauseAndEventResume(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(model.NewFlowType("payment",
		model.NewStep("pay", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			balance, _ := flow.Get("balance")
			flow.Set("attempted", true)
			if balance.(float64) < 100 {
				return model.Succeed("insufficient balance"), nil
			}
			return model.Succeed("paid"), nil
		}).WithPause(
			func(flow *model.FlowDefinition, _ *model.StepResult) *model.PauseSignal {
				balance, _ := flow.Get("balance")
				if balance.(float64) < 100 {
					return &model.PauseSignal{
						Reason:  model.PauseInsufficientResources,
						Message: "balance below amount due",
					}
				}
				return nil
			},
			model.OnEvent("BalanceToppedUp"),
		),
		model.NewStep("receipt", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("receipt", true)
			return model.Succeed(""), nil
		}).WithDependsOn("pay"),
	)))
	require.NoError(t, engine.Start(ctx))
	defer engine.Shutdown()

	summary, err := engine.Runtime().Start(ctx, "payment",
		map[string]interface{}{"balance": 10.0})
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, summary.Status)
	assert.Equal(t, model.PauseInsufficientResources, summary.PauseReason)

	require.NoError(t, engine.Runtime().PublishEvent(ctx, "BalanceToppedUp",
		map[string]interface{}{"balance": 500.0}, "treasury", summary.FlowID))

	assert.Eventually(t, func() bool {
		current, err := engine.Runtime().GetStatus(ctx, summary.FlowID, "")
		return err == nil && current.Status == model.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	final, err := engine.Runtime().GetStatus(ctx, summary.FlowID, "")
	require.NoError(t, err)
	assert.Equal(t, true, final.Output["receipt"])
}

func TestResumeManually(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(model.NewFlowType("review",
		model.NewStep("submit", func(_ context.Context, _ *model.FlowDefinition) (*model.StepResult, error) {
			return model.Succeed(""), nil
		}).WithPause(
			func(_ *model.FlowDefinition, _ *model.StepResult) *model.PauseSignal {
				return &model.PauseSignal{Reason: model.PauseExternalDependency}
			},
			model.OnTimeout(time.Hour, false),
		),
		model.NewStep("publish", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("published", true)
			return model.Succeed(""), nil
		}).WithDependsOn("submit"),
	)))

	summary, err := engine.Runtime().Start(ctx, "review", nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, summary.Status)

	resumed, err := engine.Runtime().ResumeManually(ctx, summary.FlowID, "admin", "review complete")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, resumed.Status)
	assert.Equal(t, true, resumed.Output["published"])
}

func TestResumeTerminalFlow(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(orderFlowType()))

	summary, err := engine.Runtime().Start(ctx, "order", nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, summary.Status)

	_, err = engine.Runtime().Resume(ctx, summary.FlowID)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestCancelRunningFlow(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, engine.Register(model.NewFlowType("longhaul",
		model.NewStep("crunch", func(stepCtx context.Context, _ *model.FlowDefinition) (*model.StepResult, error) {
			close(entered)
			select {
			case <-release:
				return model.Succeed(""), nil
			case <-stepCtx.Done():
				return nil, stepCtx.Err()
			}
		}),
	)))

	done := make(chan error, 1)
	go func() {
		_, err := engine.Runtime().Start(ctx, "longhaul", nil, WithFlowID("cancel-me"))
		done <- err
	}()

	<-entered
	require.NoError(t, engine.Runtime().Cancel(ctx, "cancel-me", "operator", "operator request"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, executor.ErrCancelled)
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled flow did not return")
	}

	status, err := engine.Runtime().GetStatus(ctx, "cancel-me", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, status.Status)

	// Cancelling a terminal flow is a no-op.
	assert.NoError(t, engine.Runtime().Cancel(ctx, "cancel-me", "operator", "again"))
}

func TestFireRunsDetached(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(orderFlowType()))
	require.NoError(t, engine.Start(ctx))
	defer engine.Shutdown()

	flowID, err := engine.Runtime().Fire(ctx, "order", map[string]interface{}{"amount": 5.0})
	require.NoError(t, err)
	require.NotEmpty(t, flowID)

	assert.Eventually(t, func() bool {
		summary, err := engine.Runtime().GetStatus(ctx, flowID, "")
		return err == nil && summary.Status == model.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFireRedeliversWhenSaturated(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, WithLimiter(limiter.New(1)))

	release := make(chan struct{})
	require.NoError(t, engine.Register(model.NewFlowType("slow",
		model.NewStep("hold", func(stepCtx context.Context, _ *model.FlowDefinition) (*model.StepResult, error) {
			select {
			case <-release:
				return model.Succeed(""), nil
			case <-stepCtx.Done():
				return nil, stepCtx.Err()
			}
		}),
	)))
	require.NoError(t, engine.Register(orderFlowType()))
	require.NoError(t, engine.Start(ctx))
	defer engine.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = engine.Runtime().Start(ctx, "slow", nil)
	}()
	require.Eventually(t, func() bool {
		return engine.LimiterStatus().Active == 1
	}, time.Second, 5*time.Millisecond)

	// With the only slot held the submission is nacked and redelivered.
	flowID, err := engine.Runtime().Fire(ctx, "order", nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Eventually(t, func() bool {
		summary, err := engine.Runtime().GetStatus(ctx, flowID, "")
		return err == nil && summary.Status == model.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	stats := engine.SubmissionStats()
	assert.Zero(t, stats.Depth)
	assert.GreaterOrEqual(t, stats.Redelivered, 1)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(orderFlowType()))

	for _, user := range []string{"alice", "bob"} {
		_, err := engine.Runtime().Start(ctx, "order", nil, WithUser(user))
		require.NoError(t, err)
	}

	all, err := engine.Runtime().Query(ctx, "",
		dao.NewParameter(criteria.ParamStatus, string(model.StatusCompleted)))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alice, err := engine.Runtime().Query(ctx, "",
		dao.NewParameter(criteria.ParamUserID, "alice"))
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "alice", alice[0].UserID)
}

func TestCancelRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, WithAuthorizer(&auth.ListAuthorizer{
		FlowBlockList: []string{"mallory:*"},
	}))
	require.NoError(t, engine.Register(orderFlowType()))

	summary, err := engine.Runtime().Start(ctx, "order", nil, WithUser("alice"))
	require.NoError(t, err)

	err = engine.Runtime().Cancel(ctx, summary.FlowID, "mallory", "takeover")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = engine.Runtime().GetStatus(ctx, summary.FlowID, "mallory")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	status, err := engine.Runtime().GetStatus(ctx, summary.FlowID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status.Status)
}

func TestQueryOmitsUnauthorizedFlowTypes(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, WithAuthorizer(&auth.ListAuthorizer{
		FlowBlockList: []string{"mallory:order"},
	}))
	require.NoError(t, engine.Register(orderFlowType()))

	for i := 0; i < 2; i++ {
		_, err := engine.Runtime().Start(ctx, "order", nil, WithUser("alice"))
		require.NoError(t, err)
	}

	visible, err := engine.Runtime().Query(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	hidden, err := engine.Runtime().Query(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, hidden)
}

func TestPublishEventStampsCaller(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	var mu sync.Mutex
	var captured *event.Event
	_, err := engine.Events().Subscribe("audit", func(_ context.Context, evt *event.Event) error {
		mu.Lock()
		captured = evt
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, engine.Runtime().PublishEvent(ctx, "AuditPing", nil, "carol", "corr-9"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return captured != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "carol", captured.PublishedBy)
	assert.Equal(t, "corr-9", captured.CorrelationID)
}

func approvalFlowType() *model.FlowType {
	return model.NewFlowType("refund",
		model.NewStep("file", func(_ context.Context, _ *model.FlowDefinition) (*model.StepResult, error) {
			return model.Succeed(""), nil
		}).WithPause(
			func(_ *model.FlowDefinition, _ *model.StepResult) *model.PauseSignal {
				return &model.PauseSignal{
					Reason:  model.PauseManualApproval,
					Message: "refund requires sign-off",
				}
			},
			&model.ResumeConfig{},
		),
		model.NewStep("payout", func(_ context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
			flow.Set("paid", true)
			return model.Succeed(""), nil
		}).WithDependsOn("file"),
	)
}

func TestDecideApproves(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(approvalFlowType()))

	summary, err := engine.Runtime().Start(ctx, "refund", nil, WithUser("alice"))
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, summary.Status)
	require.Equal(t, model.PauseManualApproval, summary.PauseReason)

	pending, err := engine.Approvals().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, summary.FlowID, pending[0].FlowID)
	assert.Equal(t, "refund requires sign-off", pending[0].Message)

	decided, err := engine.Runtime().Decide(ctx, pending[0].ID, true, "looks fine", "carol")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, decided.Status)
	assert.Equal(t, true, decided.Output["paid"])
}

func TestDecideRejects(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(approvalFlowType()))

	summary, err := engine.Runtime().Start(ctx, "refund", nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, summary.Status)

	pending, err := engine.Approvals().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	decided, err := engine.Runtime().Decide(ctx, pending[0].ID, false, "insufficient evidence", "carol")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, decided.Status)
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.Register(orderFlowType()))

	summary, err := engine.Runtime().Start(ctx, "order", nil)
	require.NoError(t, err)

	snapshot, err := engine.Runtime().Progress(ctx, summary.FlowID)
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.TotalSteps)
	assert.Equal(t, 3, snapshot.CompletedSteps)
	assert.InDelta(t, 1.0, snapshot.Percent(), 1e-9)
}
