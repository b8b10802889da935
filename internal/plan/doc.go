// Package plan defines the logical plan of a query.
//
// A plan is an immutable tree of Expr nodes. Recursive blocks appear as
// WithMutuallyRecursive nodes whose bindings refer to each other (and to
// themselves) through Get nodes carrying a LocalID. There are no pointer
// links between bindings: the identifier is the only handle, which keeps the
// tree acyclic even when the binding graph is not.
//
// Rewrites never mutate a node in place; they build new nodes.
package plan
