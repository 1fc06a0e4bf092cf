// Package http includes shared HTTP handler utilities.
package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ReadAllAndReplaceBody consumes r.Body and swaps in a replayable copy
// so downstream handlers can read it again.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// DumpHandler writes the request line and body of every request to
// output before passing it on. Debugging aid for API traffic.
func DumpHandler(next http.Handler, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := ReadAllAndReplaceBody(r)
		fmt.Fprintf(output, "%s %s\n%s\n", r.Method, r.URL, body)
		next.ServeHTTP(w, r)
	}
}
