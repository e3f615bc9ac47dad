// Package crontab compiles 5-field cron expressions into fixed-width bitmaps
// and walks the calendar to find matching ticks.
//
// The package is pure: no goroutines, no I/O, no wall clock. Instants are
// int64 seconds since the Unix epoch and are always evaluated in UTC.
//
// Supported field grammar (comma-joined, at most MaxListItems items):
//   - "*"     every value
//   - "*/n"   every n-th value starting at the field minimum
//   - "a"     a single value
//   - "a-b"   an ascending inclusive range
package crontab
