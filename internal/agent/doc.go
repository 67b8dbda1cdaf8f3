// Package agent contains the run supervisor. It turns one natural-language
// instruction into a tracked task, asks the planner for a step plan against
// the current capability catalog, and drives the executor through it while
// keeping the status journal current.
package agent
