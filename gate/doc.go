// Package gate implements the multi-criteria content-validation subsystem:
// gate definitions, the evaluator registry, and the evaluation pipeline.
//
// A gate is a named bundle of requirements applied to step output. Each
// requirement dispatches by its type key to an [Evaluator] registered on a
// [Registry]; unknown keys fail closed. Registration is last-write-wins per
// key, so evaluators can be hot-swapped while evaluations for other gates are
// in flight.
//
// The [Pipeline] aggregates per-requirement results into a [Status]: all
// required requirements must pass and the weighted average score of optional
// requirements must meet the gate's soft-pass threshold. Failed requirements
// receive remediation hints from the type's registered [HintGenerator].
//
// The package is independent of workflow concepts and usable standalone.
package gate
