// Package enroll coordinates multi-capture enrollments.
//
// # State machine
//
// An enrollment moves through
//
//	AwaitingScan(n) -> Validating(n) -> AwaitingScan(n+1) ... -> Merging -> Complete
//
// for n = 1..3, with Error reachable from any phase. A capture below the
// 60-quality gate keeps the machine on the same slot and burns one retry;
// exhausting the per-slot budget fails the whole enrollment.
//
// # Merge
//
// Merging succeeds only when the underlying biometric algorithm judges
// all samples mutually consistent. The merged quality penalizes variance
// between constituents and is capped at the best constituent quality.
package enroll
