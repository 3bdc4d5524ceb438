// Package engine is the media engine hosted inside a worker process. It
// speaks the protocol package's JSON lines on stdin/stdout and drives ffmpeg
// and ffprobe for trim, frame extraction, conversion and merge.
//
// Key types:
//   - Host: the message loop; one load per process, many concurrent executes
//   - Runner: ffmpeg/ffprobe invocation with -progress parsing
//   - Probe: parsed ffprobe output
//
// Every command writes only below its request's output directory inside the
// scratch directory, and staged inputs are deleted once a command finishes.
package engine
