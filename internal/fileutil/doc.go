// Package fileutil holds small file helpers shared by input staging and output
// collection.
package fileutil
