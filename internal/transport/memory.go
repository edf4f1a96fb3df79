package transport

import "io"

// Memory is an in-process Transport backed by a pair of io.Pipes. It
// has no analogue in teacher (whose tests spin up a real clangd
// subprocess) but is the natural in-memory stand-in implied by
// rpcconn.Connection's Transport interface — useful for tests and for
// wiring two Connections together in one process without a socket.
type Memory struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// NewMemoryPair returns two Memory transports, each other's peer: bytes
// written to one's Write are readable from the other's Read.
func NewMemoryPair() (a, b *Memory) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &Memory{r: ar, w: aw}, &Memory{r: br, w: bw}
}

func (m *Memory) Read(p []byte) (int, error)  { return m.r.Read(p) }
func (m *Memory) Write(p []byte) (int, error) { return m.w.Write(p) }

// Close closes both ends of this side of the pipe pair, unblocking any
// in-flight Read/Write on either this transport or its peer.
func (m *Memory) Close() error {
	werr := m.w.Close()
	rerr := m.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
