package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// EmbeddedClient returns an HTTP client that serves every request with h in
// the calling process. Clients built on it speak the same protocol as over
// the network, so a local fixture can stand in for a remote trace server.
func EmbeddedClient(h http.Handler) *http.Client {
	return &http.Client{Transport: embeddedTransport{handler: h}}
}

// embeddedTransport answers requests by running the handler to completion.
// Every trace procedure is unary, so the whole response is buffered before
// it is handed back.
type embeddedTransport struct {
	handler http.Handler
}

func (t embeddedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if req.Body != nil {
		defer req.Body.Close()
	}
	inbound := req.Clone(req.Context())
	inbound.RemoteAddr = "embedded"
	inbound.RequestURI = req.URL.RequestURI()

	rec := &bufferedResponse{header: make(http.Header)}
	t.handler.ServeHTTP(rec, inbound)
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.header.Set("Content-Length", strconv.Itoa(rec.body.Len()))

	return &http.Response{
		StatusCode:    rec.status,
		Status:        strconv.Itoa(rec.status) + " " + http.StatusText(rec.status),
		Header:        rec.header,
		Body:          io.NopCloser(&rec.body),
		ContentLength: int64(rec.body.Len()),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}, nil
}

// bufferedResponse is an http.ResponseWriter that keeps the body in memory.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *bufferedResponse) Header() http.Header { return r.header }

func (r *bufferedResponse) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *bufferedResponse) Write(p []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.body.Write(p)
}

// Flush satisfies http.Flusher; the buffer is handed over when the handler returns.
func (r *bufferedResponse) Flush() {}
