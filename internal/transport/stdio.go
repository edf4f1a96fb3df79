// Package transport provides rpcconn.Transport implementations: stdio
// (the usual way an LSP server is launched by its client), a Unix
// domain socket daemon (grounded on teacher's own daemon/client split),
// an in-memory pipe for tests, a debounced config-file watcher, and a
// websocket listener for browser-hosted clients.
package transport

import (
	"io"
	"os"
)

// Stdio is the standard way a language server is invoked: the client
// launches it as a subprocess and speaks the protocol over its
// stdin/stdout, exactly as teacher's own main.go does when it execs
// clangd. Close leaves both stdin and stdout open (see Close).
type Stdio struct {
	in  io.Reader
	out io.Writer
}

// NewStdio returns a Transport over the process's os.Stdin/os.Stdout.
func NewStdio() *Stdio {
	return &Stdio{in: os.Stdin, out: os.Stdout}
}

func (s *Stdio) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *Stdio) Write(p []byte) (int, error) { return s.out.Write(p) }

// Close is a no-op: closing os.Stdin/os.Stdout from inside the process
// that owns them has no useful effect and would break any other code
// still relying on them during shutdown.
func (s *Stdio) Close() error { return nil }
