// Package resolver evaluates prerequisite satisfaction for a workflow. It
// works on an immutable status snapshot so every query reflects the
// statuses at the moment the snapshot was taken.
package resolver
