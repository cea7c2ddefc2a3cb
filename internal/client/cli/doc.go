// Package cli implements the bugsync command line: one-shot cobra
// commands (list, add, update, fix, delete, stats, status, watch) and an
// interactive shell, all driving a services.SyncEngine.
//
// Interactive input uses huh forms when stdin is a terminal and plain
// line prompts otherwise. Output is rendered with lipgloss.
package cli
