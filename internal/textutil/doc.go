// Package textutil turns user-supplied names into filesystem-safe ones.
//
// Upload names from the HTTP surface and input paths from the CLI end up in
// staged scratch files and in the names of written outputs. FoldName strips
// accents and other combining marks so the result stays ASCII where the
// source had a close ASCII equivalent; SanitizeFileName then replaces the
// characters no filesystem tolerates.
package textutil
