package artifact

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// byteRange is an inclusive byte range.
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) length() int64 {
	return r.End - r.Start + 1
}

func (r byteRange) contentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// parseRange parses the first range of a Range header. A nil range with a nil
// error means the whole body. ErrInvalidRange marks a header to ignore;
// ErrUnsatisfiable a range starting past the end.
func parseRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, found := strings.Cut(spec, ","); found {
		spec = first
	}
	startText, endText, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return nil, ErrInvalidRange
	}

	var start, end int64
	if startText == "" {
		suffix, err := strconv.ParseInt(endText, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, ErrInvalidRange
		}
		start = max(size-suffix, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startText, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		end = size - 1
		if endText != "" {
			if end, err = strconv.ParseInt(endText, 10, 64); err != nil {
				return nil, ErrInvalidRange
			}
		}
	}

	if start >= size {
		return nil, ErrUnsatisfiable
	}
	if start > end {
		return nil, ErrInvalidRange
	}
	return &byteRange{Start: start, End: min(end, size-1)}, nil
}
