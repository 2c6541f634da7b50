// Package store provides persistence for the workflow and gate catalogs and
// for archived execution history. The engine core is persistence-agnostic:
// these stores plug into the registration interfaces and the engine's
// HistoryArchiver hook.
package store
