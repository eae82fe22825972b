// Package relay re-emits an upstream response to the original caller as a
// forward-only byte stream.
package relay

import (
	"io"
	"net/http"

	"profiling-proxy-go/internal/model"
)

// forwardedHeaders is the allow-list of upstream headers relayed to the
// caller. Everything else is dropped so upstream-internal headers (routing
// hints, debug markers) never leak; these two are needed for correct
// client-side decoding and caching.
var forwardedHeaders = []string{"Content-Encoding", "Vary"}

// chunkSize is the relay copy buffer. The next chunk is only pulled from the
// upstream once the previous one has been written downstream.
const chunkSize = 32 * 1024

// Stream copies the upstream response to w: status verbatim, Content-Type
// defaulting to application/json, allow-listed headers, then the body chunk
// by chunk without ever buffering it whole. The upstream body is always
// closed, releasing the pooled connection even when the caller disconnects
// mid-stream.
//
// Once streaming has begun a mid-stream failure terminates the forwarded
// response; the status line is already on the wire, so partial output is the
// expected outcome and the error is returned for logging only.
func Stream(w http.ResponseWriter, resp *model.ProxyResponse) error {
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)

	for _, name := range forwardedHeaders {
		for _, v := range resp.Header.Values(name) {
			w.Header().Add(name, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
