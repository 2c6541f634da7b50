// Package types defines shared types used across the gateflow engine:
// the unified error taxonomy with structured error codes and retryability
// metadata.
//
// Errors are classified into two families:
//
//   - Validation errors: malformed workflow or gate definitions, detected at
//     registration time. These never reach execution.
//   - Runtime errors: step adapter failures, timeouts, gate failures and
//     registry dispatch misses, surfaced through ExecutionState.
//
// Use [IsRetryable] and [GetErrorCode] to classify errors without type
// assertions at call sites.
package types
