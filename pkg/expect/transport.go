// Package expect drives an interactive remote shell as a sequence of
// send/expect/timeout steps. It matches literal marker substrings in the
// raw output stream; it knows nothing about SSH, menus or any particular
// appliance.
package expect

// Transport is an open bidirectional channel to a remote interactive shell.
//
// TryRead must never block: it returns the next unread chunk of output, or
// ok=false when nothing is buffered (or the stream has ended). WriteLine
// sends one command line; the implementation appends the line terminator.
// Close releases the underlying connection and must be safe to call more
// than once.
type Transport interface {
	TryRead() ([]byte, bool)
	WriteLine(line string) error
	Close() error
}
