// Package flowgrid is an embeddable workflow engine. A flow type declares a
// DAG of steps with data dependencies, retry and timeout policies,
// idempotency, dynamic branching and pause/resume triggers; the engine
// schedules instances of it through a middleware pipeline with versioned
// persistence, execution tracking, bounded concurrency and an event fabric.
//
// Minimal use:
//
//	engine, err := flowgrid.New()
//	if err != nil { ... }
//	_ = engine.Register(model.NewFlowType("greet",
//		model.NewStep("hello", func(ctx context.Context, flow *model.FlowDefinition) (*model.StepResult, error) {
//			flow.Set("greeting", "hello")
//			return model.Succeed("done"), nil
//		})))
//	summary, err := engine.Runtime().Start(ctx, "greet", nil)
//
// Call Service.Start to enable fire-and-forget submissions, event-driven
// resume and the background auto-resume and recovery sweeps.
package flowgrid
