// Package acmechallenge serves ACME HTTP-01 challenge files from the
// AcmeWorkspace (spec.md §3, §4.6). It is deliberately independent of any
// ACME library's own challenge-solver HTTP handler: it reads exactly the
// path the ACME client adapter (internal/acmeclient) wrote, which keeps
// the file-path contract a pure function of (workspace root, server name,
// token) as spec.md §3 requires, rather than delegating to a library's
// internal routing the way caddytls/httphandler.go proxies to a second
// listener.
package acmechallenge

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const challengePrefix = "/.well-known/acme-challenge/"

// chunkSize is the read granularity spec.md §4.6 specifies ("reads the
// body in 1 KiB chunks").
const chunkSize = 1024

// Responder serves challenge files rooted at workspaceRoot.
type Responder struct {
	workspaceRoot string
}

// New returns a Responder rooted at workspaceRoot.
func New(workspaceRoot string) *Responder {
	return &Responder{workspaceRoot: workspaceRoot}
}

// TokenPath returns the on-disk path for a (serverName, token) challenge,
// the same function both the adapter (write) and the responder (read)
// apply (spec.md §3 invariant).
func TokenPath(workspaceRoot, serverName, token string) string {
	return filepath.Join(workspaceRoot, serverName, ".well-known", "acme-challenge", token)
}

// Handles reports whether path is an ACME challenge request this
// responder should take over (spec.md §4.5 step 3).
func (r *Responder) Handles(path string) bool {
	return strings.HasPrefix(path, challengePrefix)
}

// Serve writes a 200 with the token file's bytes, or a 404 text body if
// the file doesn't exist, directly onto w (a buffered connection writer).
func (r *Responder) Serve(w io.Writer, serverName, path string) error {
	token := strings.TrimPrefix(path, challengePrefix)
	if token == "" || strings.ContainsAny(token, "/\\") {
		return writeNotFound(w)
	}

	full := TokenPath(r.workspaceRoot, serverName, token)
	f, err := os.Open(full)
	if err != nil {
		return writeNotFound(w)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return writeNotFound(w)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nContent-Type: text/plain\r\nConnection: keep-alive\r\n\r\n", info.Size())

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(bw, f, buf); err != nil {
		return err
	}
	return bw.Flush()
}

func writeNotFound(w io.Writer) error {
	body := "acme challenge not found"
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %d Not Found\r\nContent-Length: %d\r\nContent-Type: text/plain\r\nConnection: keep-alive\r\n\r\n%s",
		http.StatusNotFound, len(body), body)
	return bw.Flush()
}
