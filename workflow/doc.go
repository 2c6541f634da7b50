// Package workflow implements the workflow execution engine: dependency
// graphs with validation and deterministic topological ordering, the workflow
// registry, per-step retry coordination with backoff, and the execution state
// machine.
//
// A workflow is registered once (validated, then immutable) and executed many
// times; every run gets a fresh execution id and its own ExecutionState. The
// engine walks steps in topological order, dispatches each to a StepAdapter,
// evaluates attached gates through the gate package, and retries failed steps
// per their policy. Terminal states land in a bounded per-engine history and
// can optionally be archived externally.
//
// Basic usage:
//
//	registry := workflow.NewRegistry(logger, workflow.WithGateCatalog(catalog))
//	engine := workflow.NewEngine(workflow.DefaultEngineConfig(), adapter, registry, logger,
//		workflow.WithGates(catalog, pipeline))
//
//	id, err := registry.Register(ctx, wf)
//	state, err := engine.Execute(ctx, id, inputs)
package workflow
