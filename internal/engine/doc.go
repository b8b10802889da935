// Package engine iterates rendered recursive loops to their fixpoints.
//
// ARCHITECTURE:
//
// Loop state machine:
// Every loop is a Loop value stepped one round at a time by Step. A loop is
// Running until a round leaves every binding unchanged (Converged) or a
// round fails (Failed). Both terminal states are final. Cancellation and
// recursion limits are checked only at round boundaries.
//
// Workers and exchange:
// Each worker owns a disjoint shard of every binding's state, chosen by row
// hash, and reads the catalog inputs and enclosing frames only through the
// same partition. In a round every worker evaluates every binding against
// its own shards. Operators that combine rows by key (joins, reductions,
// distinct) first exchange their input so each key meets on its owner, and
// each binding's output is exchanged by row into the owners' mailboxes.
// Every exchange sits between two barriers. The round converged when an
// all-reduce over the workers' change counts is zero, so all workers agree.
// Workers never touch each other's shards; the mailboxes are the only
// channel between them.
//
// Consolidation:
// Shards are consolidated after every round. Without it a logically stable
// multiset keeps growing physically and convergence is never detected.
//
// Nested loops:
// A loop nested in a binding value runs to completion every time its
// enclosing round evaluates it, stepped by all workers of the enclosing loop
// on the same exchange. Each worker gets its own partition of the result.
// Loops reached outside any worker, including those in a loop body,
// coordinate their own workers.
//
// Sessions:
// A Session keeps a program and its base inputs across epochs. Applying a
// batch of input changes advances the epoch and re-evaluates; top-level
// loops whose inputs did not change reuse their converged result. Monotone
// loops whose inputs only gained rows resume from their converged states.
// Timestamps are (epoch, round) pairs.
package engine
