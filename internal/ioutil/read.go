package ioutil

import (
	"fmt"
	"io"
)

// DefaultErrorBodyLimit bounds how much of an upstream error body is kept
// for messages and logs.
const DefaultErrorBodyLimit = 4096

// ReadLimited reads up to limit bytes from r and returns the content as a string.
// If reading fails, returns a string describing the read failure instead of silencing
// the error. This is intended for including response bodies in error messages and logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := ReadLimitedBytes(r, limit)
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// ReadLimitedBytes reads at most limit bytes from r.
func ReadLimitedBytes(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultErrorBodyLimit
	}
	return io.ReadAll(io.LimitReader(r, limit))
}
