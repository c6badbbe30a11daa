package tcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

const (
	// maxBufferSize caps the per-connection accumulation buffer. A message
	// still incomplete at this size is treated as malformed.
	maxBufferSize = 256 * 1024

	readChunkSize = 4096
)

// connHandler serves one client connection: accumulate bytes, extract
// complete JSON objects, dispatch each, answer in order.
type connHandler struct {
	server *Server
	conn   net.Conn
	logger *slog.Logger
	buf    []byte
}

func newConnHandler(server *Server, conn net.Conn) *connHandler {
	return &connHandler{
		server: server,
		conn:   conn,
		logger: server.logger.With("remote", conn.RemoteAddr().String()),
	}
}

// run reads until the connection closes or the server stops. TCP gives no
// message boundaries, so reads are appended to a buffer and complete objects
// are peeled off the front as they become decodable.
func (h *connHandler) run(ctx context.Context) {
	chunk := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.server.shutdown:
			return
		default:
		}

		_ = h.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := h.conn.Read(chunk)
		if n > 0 {
			if h.server.metrics != nil {
				h.server.metrics.bytesRead.Add(float64(n))
			}
			h.buf = append(h.buf, chunk[:n]...)
			h.consume(ctx)

			if len(h.buf) > maxBufferSize {
				h.logger.Warn("message exceeds buffer limit, discarding",
					"buffered", len(h.buf))
				h.writeParseError("", "message too large")
				h.buf = nil
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if err != io.EOF {
				h.logger.Debug("connection read ended", "error", err)
			}
			return
		}
	}
}

// consume decodes and serves every complete JSON object at the front of the
// buffer. An incomplete tail stays buffered for the next read. A
// syntactically broken prefix is answered with a parse error and the whole
// buffer is discarded; the connection itself stays open.
func (h *connHandler) consume(ctx context.Context) {
	for len(bytes.TrimSpace(h.buf)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(h.buf))

		var req command.Request
		err := dec.Decode(&req)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return // incomplete, wait for more bytes
		}
		if err != nil {
			h.logger.Warn("malformed message", "error", err)
			if h.server.metrics != nil {
				h.server.metrics.parseErrors.Inc()
			}
			h.writeParseError("", err.Error())
			h.buf = nil
			return
		}

		h.buf = h.buf[dec.InputOffset():]
		h.serve(ctx, req)
	}
}

// serve runs one complete request through classification, dispatch, and the
// bounded wait, then writes the response envelope.
func (h *connHandler) serve(ctx context.Context, req command.Request) {
	start := time.Now()
	response := h.dispatch(ctx, req)

	h.server.requestsServed.Add(1)
	h.server.lastActivity.Store(time.Now())
	if response.Status == command.StatusError {
		h.server.requestErrors.Add(1)
	}
	if h.server.metrics != nil {
		h.server.metrics.requestsTotal.WithLabelValues(response.Status).Inc()
		h.server.metrics.replyDuration.Observe(time.Since(start).Seconds())
	}

	h.write(response)
}

func (h *connHandler) dispatch(_ context.Context, req command.Request) command.Response {
	params, err := req.DecodeParams()
	if err != nil {
		if h.server.metrics != nil {
			h.server.metrics.parseErrors.Inc()
		}
		return command.ErrorResponse(
			errors.WrapInvalid(errors.ErrParse, "tcp-server", "dispatch", "params decode"),
		).WithID(req.ID)
	}

	if _, err := command.CheckTransport(req.Type, command.TransportReliable); err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	completion, err := h.server.submitter.Submit(
		command.NewCommand(req.Type, params, command.TransportReliable))
	if err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	outcome, err := completion.Wait(h.server.replyTimeout)
	if err != nil {
		// The command may still execute; only the client-visible wait ends.
		h.logger.Warn("reply timeout", "command", req.Type)
		return command.ErrorResponse(err).WithID(req.ID)
	}
	if outcome.Err != nil {
		return command.ErrorResponse(outcome.Err).WithID(req.ID)
	}
	return command.SuccessResponse(outcome.Result).WithID(req.ID)
}

func (h *connHandler) writeParseError(id, detail string) {
	err := errors.WrapInvalid(errors.ErrParse, "tcp-server", "consume", detail)
	h.write(command.ErrorResponse(err).WithID(id))
}

func (h *connHandler) write(response command.Response) {
	data := append(response.Encode(), '\n')
	_ = h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := h.conn.Write(data); err != nil {
		h.logger.Debug("response write failed", "error", err)
	}
}
