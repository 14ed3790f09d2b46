package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const maxStreamLine = 1 << 20

// ServeStream answers newline-delimited requests read from in, writing one
// response line per request to out, until in reaches EOF or ctx is done.
// Blank lines are skipped. A request that cannot be parsed is answered
// like any other, so one bad line does not end the stream.
func (d *Dispatcher) ServeStream(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := d.Dispatch(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("mcp: write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: read requests: %w", err)
	}
	return nil
}
