// ABOUTME: Line framing readers for vendor streaming responses
// ABOUTME: Server-sent event data lines and newline-delimited JSON

package llm

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// DoneSentinel terminates an SSE stream that uses sentinel framing.
const DoneSentinel = "[DONE]"

const maxLineSize = 1024 * 1024

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return sc
}

// ScanSSE calls fn with the payload of every "data:" line in r. Comment,
// event and blank lines are skipped. A payload equal to DoneSentinel ends the
// scan without error. A non-nil error from fn stops the scan and is returned.
func ScanSSE(ctx context.Context, r io.Reader, fn func(data string) error) error {
	sc := newScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == DoneSentinel {
			return nil
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ScanLines calls fn with every non-blank line in r.
func ScanLines(ctx context.Context, r io.Reader, fn func(line string) error) error {
	sc := newScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
