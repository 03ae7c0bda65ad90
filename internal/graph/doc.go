// Package graph defines deploy tasks and the validated graph they form.
//
// A task is either a leaf with an Action, or a composite listing sub-task names
// that run strictly in the declared order. Any task may also declare
// dependencies, which run (once) before it. Builder collects definitions and
// Build rejects unknown names, duplicates and cycles up front, so a built Graph
// never fails on a missing reference at run time.
package graph
