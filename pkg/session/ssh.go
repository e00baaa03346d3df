package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/extport/pkg/util"
)

// SSHDialer opens an interactive shell over SSH with password
// authentication. Without a PTY the remote shell reads commands from stdin
// and neither echoes them nor prints prompts, which keeps marker matching
// unambiguous.
type SSHDialer struct {
	DialTimeout time.Duration
	RequestPTY  bool
	// HostKeyCallback defaults to ssh.InsecureIgnoreHostKey.
	HostKeyCallback ssh.HostKeyCallback
}

// Open implements Dialer.
func (d *SSHDialer) Open(ctx context.Context, address string, creds Credentials) (Channel, error) {
	port := creds.Port
	if port == 0 {
		port = 22
	}
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	hostKey := d.HostKeyCallback
	if hostKey == nil {
		util.WithDevice(address).Debug("SSH host key verification disabled (InsecureIgnoreHostKey)")
		hostKey = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
		},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH dial %s: %w", addr, err)}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH handshake %s@%s: %w", creds.Username, addr, err)}
	}
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH session: %w", err)}
	}

	if d.RequestPTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
			sess.Close()
			client.Close()
			return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH pty: %w", err)}
		}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH stdin: %w", err)}
	}

	// stdout and stderr share one stream so error text is visible to the
	// sequencer in command order.
	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw

	if err := sess.Shell(); err != nil {
		pw.Close()
		sess.Close()
		client.Close()
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("SSH shell: %w", err)}
	}

	go func() {
		// Unblock the reader once the remote shell exits.
		pw.CloseWithError(sess.Wait())
	}()

	closer := func() error {
		stdin.Close()
		sess.Close()
		pw.Close()
		return client.Close()
	}

	util.WithDevice(address).Debugf("SSH session opened as %s", creds.Username)
	return newStream(address, pr, stdin, "\n", closer), nil
}
