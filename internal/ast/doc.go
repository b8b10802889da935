// Package ast defines the parsed query tree consumed by the resolver.
//
// The tree is produced by a front end (see package compiler) and carries no
// resolved names or types. Query, FromItem and Expr are sealed interfaces so
// resolver type switches can be exhaustive.
package ast
