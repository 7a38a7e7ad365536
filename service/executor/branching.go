package executor

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/internal/hash"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/middleware"
)

// expandBranches runs the step's dynamic fan-out and its static branches.
// It executes after the step's own function succeeded and before the step
// is marked completed, so a branch failure fails the owning step.
func (s *Service) expandBranches(ctx context.Context, flow *model.FlowDefinition, flowType *model.FlowType, step *model.FlowStep) error {
	if step.DynamicBranching != nil {
		if err := s.runDynamic(ctx, flow, step); err != nil {
			return err
		}
	}
	for _, branch := range step.Branches {
		if err := s.runStaticBranch(ctx, flow, step, branch); err != nil {
			return err
		}
	}
	return nil
}

// runDynamic materialises one sub-step per collection item and schedules
// them under the configured strategy. Sub-steps already terminal on the
// instance are skipped, which makes fan-out re-entrant after a resume.
func (s *Service) runDynamic(ctx context.Context, flow *model.FlowDefinition, step *model.FlowStep) error {
	cfg := step.DynamicBranching
	items, err := cfg.Selector(flow)
	if err != nil {
		return fmt.Errorf("branch selector for step %q: %w", step.Name, err)
	}
	if len(items) == 0 {
		return nil
	}

	subSteps := make([]*model.FlowSubStep, 0, len(items))
	for index, item := range items {
		sub, err := cfg.Factory(step, item, index)
		if err != nil {
			return fmt.Errorf("branch factory for step %q item %d: %w", step.Name, index, err)
		}
		if sub == nil {
			continue
		}
		if sub.Name == "" {
			sub.Name = model.SubStepName(step.Name, index)
		}
		if sub.Index == 0 {
			sub.Index = index
		}
		if sub.SourceData == nil {
			sub.SourceData = item
		}
		if flow.StepState(sub.Name).IsTerminal() {
			continue
		}
		subSteps = append(subSteps, sub)
	}
	if len(subSteps) == 0 {
		return nil
	}

	s.logger.Debug("dynamic fan-out",
		zap.String("flowId", flow.FlowID),
		zap.String("step", step.Name),
		zap.Int("subSteps", len(subSteps)),
		zap.String("strategy", string(cfg.Strategy)))

	switch cfg.Strategy {
	case model.StrategyRoundRobin:
		return s.runRoundRobin(ctx, flow, subSteps)
	case model.StrategySequential:
		return s.runSequential(ctx, flow, subSteps)
	default:
		return s.runParallel(ctx, flow, subSteps, cfg.MaxConcurrent)
	}
}

// runParallel executes the sub-steps concurrently, capped by maxConcurrent
// when positive.
func (s *Service) runParallel(ctx context.Context, flow *model.FlowDefinition, subSteps []*model.FlowSubStep, maxConcurrent int) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	for _, sub := range subSteps {
		sub := sub
		g.Go(func() error {
			return s.runSubStep(gctx, flow, sub)
		})
	}
	return g.Wait()
}

// runRoundRobin buckets the sub-steps by resource group and interleaves one
// sub-step per group per round, so consecutive executions alternate between
// groups instead of draining one group first.
func (s *Service) runRoundRobin(ctx context.Context, flow *model.FlowDefinition, subSteps []*model.FlowSubStep) error {
	groups := map[string][]*model.FlowSubStep{}
	var names []string
	for _, sub := range subSteps {
		group := sub.ResourceGroup
		if _, seen := groups[group]; !seen {
			names = append(names, group)
		}
		groups[group] = append(groups[group], sub)
	}
	sort.Strings(names)
	for _, name := range names {
		orderSubSteps(groups[name])
	}

	for round := 0; ; round++ {
		progressed := false
		for _, name := range names {
			bucket := groups[name]
			if round >= len(bucket) {
				continue
			}
			progressed = true
			if err := s.runSubStep(ctx, flow, bucket[round]); err != nil {
				return err
			}
		}
		if !progressed {
			return nil
		}
	}
}

// runSequential executes sub-steps one at a time, higher priority first,
// ties broken by ascending index.
func (s *Service) runSequential(ctx context.Context, flow *model.FlowDefinition, subSteps []*model.FlowSubStep) error {
	orderSubSteps(subSteps)
	for _, sub := range subSteps {
		if err := s.runSubStep(ctx, flow, sub); err != nil {
			return err
		}
	}
	return nil
}

func orderSubSteps(subSteps []*model.FlowSubStep) {
	sort.SliceStable(subSteps, func(i, j int) bool {
		if subSteps[i].Priority != subSteps[j].Priority {
			return subSteps[i].Priority > subSteps[j].Priority
		}
		return subSteps[i].Index < subSteps[j].Index
	})
}

// runSubStep pushes one generated sub-step through the middleware pipeline
// with the same idempotency and tracking guarantees as a graph step. The
// source item participates in the input hash so re-branching over the same
// collection reuses prior results.
func (s *Service) runSubStep(ctx context.Context, flow *model.FlowDefinition, sub *model.FlowSubStep) error {
	flow.SetStepState(sub.Name, model.StepStateRunning)

	inputs := resolveInputs(&sub.FlowStep, flow)
	if sub.SourceData != nil {
		if inputs == nil {
			inputs = make(map[string]interface{}, 1)
		}
		inputs["sourceData"] = sub.SourceData
	}
	inputHash := hash.Inputs(inputs)

	if sub.IsIdempotent {
		if _, ok, err := s.tracker.HasExecutedSuccessfully(ctx, flow.FlowID, sub.Name, inputHash); err == nil && ok {
			flow.SetStepState(sub.Name, model.StepStateCompleted)
			return nil
		}
	}

	record, err := s.tracker.RecordStart(ctx, flow.FlowID, sub.Name, inputHash)
	if err != nil {
		return fmt.Errorf("record start for sub-step %q: %w", sub.Name, err)
	}

	sc := &middleware.StepContext{
		Flow:      flow,
		Step:      &sub.FlowStep,
		UserID:    flow.UserID,
		Inputs:    inputs,
		InputHash: inputHash,
		Attempt:   1,
	}
	result, execErr := s.pipeline(ctx, sc)
	if execErr == nil && result != nil && !result.Success {
		execErr = fmt.Errorf("sub-step %q reported failure: %s", sub.Name, result.Message)
	}
	if execErr != nil {
		_ = s.tracker.RecordFailure(ctx, record, execErr)
		flow.RecordError(sub.Name, execErr)
		flow.SetStepState(sub.Name, model.StepStateFailed)
		s.notify(flow, &sub.FlowStep, result, execErr)
		if sub.AllowFailure {
			return nil
		}
		return fmt.Errorf("sub-step %q: %w", sub.Name, execErr)
	}

	outputHash := ""
	var output interface{}
	if result != nil && result.Output != nil {
		output = result.Output
		outputHash = hash.Inputs(map[string]interface{}{"output": result.Output})
	}
	_ = s.tracker.RecordCompletion(ctx, record, outputHash, output)
	flow.SetStepState(sub.Name, model.StepStateCompleted)
	s.notify(flow, &sub.FlowStep, result, nil)
	return nil
}

// runStaticBranch evaluates a conditional branch against the live
// blackboard: a true condition runs the branch steps in declaration order,
// a false one records them as skipped so downstream audits see the
// decision.
func (s *Service) runStaticBranch(ctx context.Context, flow *model.FlowDefinition, step *model.FlowStep, branch *model.FlowBranch) error {
	taken := branch.Condition == nil || branch.Condition(flow)
	if !taken {
		for _, branchStep := range branch.Steps {
			if flow.StepState(branchStep.Name) == model.StepStatePending {
				flow.SetStepState(branchStep.Name, model.StepStateSkipped)
			}
		}
		s.logger.Debug("branch skipped",
			zap.String("flowId", flow.FlowID),
			zap.String("step", step.Name),
			zap.String("branch", branch.Name))
		return nil
	}
	for _, branchStep := range branch.Steps {
		if flow.StepState(branchStep.Name).IsTerminal() {
			continue
		}
		sub := &model.FlowSubStep{FlowStep: *branchStep}
		if err := s.runSubStep(ctx, flow, sub); err != nil {
			return fmt.Errorf("branch %q: %w", branch.Name, err)
		}
	}
	return nil
}
