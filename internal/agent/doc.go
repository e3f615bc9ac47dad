// Package agent is the built-in keeper agent: on every trigger it polls
// the keeper and executes due jobs, up to a per-pass budget.
//
// Triggers are robfig/cron schedules. Plain 5-field expressions are
// compiled by the crontab package so the agent and the jobs it drives
// agree on what an expression means.
package agent
