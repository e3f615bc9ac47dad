// Package storage persists the job registry and run history.
//
// It stores:
//   - Job records (expression, target, next tick) keyed by id
//   - The last assigned job id, so ids are never reused across restarts
//   - An append-only history of executions
package storage
