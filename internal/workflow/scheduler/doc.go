// Package scheduler turns engine snapshots into runnable batches that respect
// dependency order plus runtime constraints such as concurrency limits, retry
// budgets and manual approvals. The engine itself never schedules; callers
// use this package to decide which steps to execute next.
package scheduler
