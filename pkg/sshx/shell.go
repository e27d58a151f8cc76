// Package sshx opens an interactive PTY-backed shell on a remote appliance
// and exposes it as an expect.Transport.
package sshx

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// readChunkSize bounds a single read from the remote shell.
const readChunkSize = 1024

// Config identifies the appliance and how to authenticate against it.
type Config struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Username       string        `json:"username"`
	KeyFile        string        `json:"key_file,omitempty"`
	Password       string        `json:"password,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Addr returns host:port with the SSH default applied.
func (c *Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// ShellTransport is one interactive shell session. A background goroutine
// pumps remote output into a buffered channel so TryRead never blocks.
// The transport is exclusively owned by a single session run; Close is
// safe to call any number of times.
type ShellTransport struct {
	stdin   io.WriteCloser
	chunks  chan []byte
	done    chan struct{}
	release func() error

	closeOnce sync.Once
	closeErr  error
}

// Dial connects, authenticates and opens an interactive shell with a PTY.
// Any failure here is a connection-level error: no script step has been
// attempted and nothing has been written to the remote side.
func Dial(ctx context.Context, cfg *Config) (*ShellTransport, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
		Config: ssh.Config{
			// Appliance admin shells often run dated SSH stacks; accept
			// the older exchange and cipher suites the defaults dropped.
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group-exchange-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes256-cbc",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", cfg.Addr(), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	release := func() error {
		session.Close()
		return client.Close()
	}
	return newShellTransport(stdin, stdout, release), nil
}

// newShellTransport wires the pump over arbitrary pipes; Dial uses the SSH
// session's, tests use in-memory ones.
func newShellTransport(stdin io.WriteCloser, stdout io.Reader, release func() error) *ShellTransport {
	t := &ShellTransport{
		stdin:   stdin,
		chunks:  make(chan []byte, 256),
		done:    make(chan struct{}),
		release: release,
	}
	go t.pump(stdout)
	return t
}

func (t *ShellTransport) pump(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.chunks <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil {
			close(t.chunks)
			return
		}
	}
}

// TryRead returns the next buffered chunk without blocking. ok is false
// when nothing is pending or the remote side has closed the stream.
func (t *ShellTransport) TryRead() ([]byte, bool) {
	select {
	case chunk, ok := <-t.chunks:
		if !ok {
			return nil, false
		}
		return chunk, true
	default:
		return nil, false
	}
}

// WriteLine sends one command line, newline-terminated, to the shell.
func (t *ShellTransport) WriteLine(line string) error {
	_, err := t.stdin.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// Close releases the shell and connection exactly once; repeated calls
// return the first result.
func (t *ShellTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.stdin.Close()
		if t.release != nil {
			t.closeErr = t.release()
		}
	})
	return t.closeErr
}

func authMethods(cfg *Config) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	if cfg.KeyFile != "" {
		keyPath, err := expandHome(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", keyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			// Some appliances only offer keyboard-interactive; answer
			// every prompt with the password.
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication configured: set key_file or password")
	}
	return auth, nil
}

// expandHome resolves a leading ~/ against the current user's home dir.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
