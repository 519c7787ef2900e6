package sqlmcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 16 << 20

// ServeLines reads one JSON tool call per line from r and writes one JSON
// response per line to w, until r is exhausted or ctx is cancelled. Blank
// lines are skipped. A line longer than maxLineBytes is answered with an
// InvalidRequest error and serving continues. Responses on this transport
// are always JSON so each one stays on a single line.
func (g *Gateway) ServeLines(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriter(w)

	for {
		line, n, tooLong, readErr := readLine(br)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("failed to read request: %w", readErr)
		}
		if n > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var resp *Response
		switch {
		case tooLong:
			resp = errorResponse(g.handleError("dispatch error", newToolError(KindInvalidRequest,
				"request line of %d bytes exceeds the limit of %d bytes", n, maxLineBytes)))
		default:
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				resp = g.handleLine(ctx, line)
			}
		}

		if resp != nil {
			if err := g.writeLineResponse(bw, resp, n); err != nil {
				return err
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// readLine returns the next line of br with its terminator. A line longer
// than maxLineBytes is read to its end but not kept; tooLong is set and n
// carries its full length.
func readLine(br *bufio.Reader) (line []byte, n int, tooLong bool, err error) {
	for {
		chunk, readErr := br.ReadSlice('\n')
		n += len(chunk)
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		return line, n, tooLong, readErr
	}
}

func (g *Gateway) writeLineResponse(bw *bufio.Writer, resp *Response, requestBytes int) error {
	out, err := EncodeResponse(resp, FormatJSON)
	if err != nil {
		te := g.handleError("dispatch error", fmt.Errorf("failed to encode response: %w", err))
		out, _ = EncodeResponse(errorResponse(te), FormatJSON)
	}

	g.logger.Info().
		Str("transport", "lines").
		Int("request_bytes", requestBytes).
		Int("response_bytes", len(out)).
		Bool("ok", resp.OK).
		Msg("tool call")

	if _, err := bw.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (g *Gateway) handleLine(ctx context.Context, line []byte) *Response {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var call ToolCall
	if err := dec.Decode(&call); err != nil {
		return errorResponse(g.handleError("dispatch error", &ToolError{
			Kind:    KindInvalidRequest,
			Message: fmt.Sprintf("request is not a valid tool call: %v", err),
			Err:     err,
		}))
	}
	if call.Tool == "" {
		return errorResponse(g.handleError("dispatch error", newToolError(KindInvalidRequest, `request has no "tool" field`)))
	}
	return g.Dispatch(ctx, call)
}
