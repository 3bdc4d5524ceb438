// Package logs reads framecut's log file for `framecut logs`.
//
// It returns the last lines of the file with bounded memory, follows it for
// new lines (coping with truncation), and filters lines by request id or
// operation kind in both the json and console formats.
package logs
