package protocol

import "path/filepath"

// Scratch directory layout shared by the bridge and the worker.
const (
	inputsDirName = "inputs"
	outputDirName = "out"
)

// InputsDir is where the bridge stages command inputs.
func InputsDir(scratch string) string {
	return filepath.Join(scratch, inputsDirName)
}

// OutputDir is where the worker writes the files for one request.
func OutputDir(scratch, requestID string) string {
	return filepath.Join(scratch, outputDirName, requestID)
}
