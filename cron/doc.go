// Package cron translates between the textual cron expressions stored by the
// rule engine and the structured form the visual rule editor works on.
//
// An expression has five fields (minute, hour, day of month, month, day of
// week) and an optional sixth year field. Every field is a comma separated
// list of parts; see Kind for the supported forms. Parse, Assemble and
// Blocks convert between text, drafts and editor nodes, Describer renders
// expressions as natural language and Schedule computes occurrences.
package cron
