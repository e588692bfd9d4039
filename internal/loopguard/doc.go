// Package loopguard classifies candidate events for runaway repetition.
//
// # Overview
//
// An error loop is uncontrolled repetition between agents, distinct from an
// intentional iterative dialog. The guard inspects the candidate's trace
// history over a 60-second sliding window and applies two checks in order:
//
//  1. Rate cap: too many events on one trace within the window.
//  2. Repetition: the candidate is near-identical (token-set Jaccard >= 0.95)
//     to at least two of the last four trace events.
//
// # Decisions and policy
//
// Classify returns a delay plus a Decision carrying a confidence level. The
// ingest pipeline maps decisions to actions with ActionFor:
//
//   - error loop, confidence >= 0.95 -> stop (reject, no append, no fan-out)
//   - error loop, 0.7 < confidence < 0.95 -> warn (append with a warning suffix)
//   - otherwise (including any decision that is not an error loop) -> normal
//
// The warning suffix produced by WarnSuffix is part of the wire contract.
package loopguard
