// Package engine owns a workflow's steps and executes them one at a time per
// call. It answers which steps may start, explains why the others are
// blocked, and records each attempt's outcome on the step itself. Choosing
// what to run next, and how many at once, is left to callers such as the
// scheduler and runner packages.
package engine
