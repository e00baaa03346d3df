package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/newtron-network/extport/pkg/util"
)

// Telnet protocol bytes (RFC 854).
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240
)

// Login prompts, matched on their tails so "Username:" and "login:" both hit.
var (
	userPrompts = []string{"sername:", "ogin:"}
	passPrompt  = "assword:"
)

// ErrAuthRejected is wrapped in the ConnectionError returned when the device
// asks for credentials again after the password was sent.
var ErrAuthRejected = errors.New("authentication rejected")

// TelnetDialer opens a telnet session and completes the login handshake.
// Every option the peer offers is refused, leaving a plain NVT stream.
type TelnetDialer struct {
	DialTimeout  time.Duration
	LoginTimeout time.Duration
	// Prompts that signal a logged-in CLI. Defaults to "#" and ">".
	Prompts []string
}

// Open implements Dialer.
func (d *TelnetDialer) Open(ctx context.Context, address string, creds Credentials) (Channel, error) {
	port := creds.Port
	if port == 0 {
		port = 23
	}
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	loginTimeout := d.LoginTimeout
	if loginTimeout == 0 {
		loginTimeout = 10 * time.Second
	}
	prompts := d.Prompts
	if len(prompts) == 0 {
		prompts = []string{"#", ">"}
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Address: address, Err: fmt.Errorf("telnet dial %s: %w", addr, err)}
	}

	tc := &telnetConn{conn: conn}
	s := newStream(address, tc, tc, "\r\n", conn.Close)
	if err := login(s, creds, prompts, loginTimeout); err != nil {
		s.Close()
		return nil, err
	}

	util.WithDevice(address).Debug("telnet session established")
	return s, nil
}

// login answers the username and password prompts, if any, and waits for a
// CLI prompt.
func login(s *stream, creds Credentials, prompts []string, timeout time.Duration) error {
	markers := append(append([]string{}, userPrompts...), passPrompt)
	markers = append(markers, prompts...)
	nUser := len(userPrompts)

	sentUser, sentPass := false, false
	for {
		_, which, err := s.readUntilAny(markers, timeout)
		if err != nil {
			var te *ReadTimeoutError
			if errors.As(err, &te) {
				return &ConnectionError{Address: s.addr, Err: fmt.Errorf("login: %w", err)}
			}
			return err
		}
		switch {
		case which < nUser:
			if sentPass || sentUser {
				return &ConnectionError{Address: s.addr, Err: ErrAuthRejected}
			}
			if err := s.Send(creds.Username); err != nil {
				return err
			}
			sentUser = true
		case which == nUser:
			if sentPass {
				return &ConnectionError{Address: s.addr, Err: ErrAuthRejected}
			}
			if err := s.sendSecret(creds.Password); err != nil {
				return err
			}
			sentPass = true
		default:
			return nil
		}
	}
}

// telnetConn strips telnet commands from the inbound stream and refuses
// every option negotiation. Writes are serialized because refusals are sent
// from the reader goroutine.
type telnetConn struct {
	conn net.Conn
	wmu  sync.Mutex

	state  int
	verb   byte
	inSub  bool
	subIAC bool
}

const (
	stData = iota
	stIAC
	stOption
)

func (c *telnetConn) Write(p []byte) (int, error) {
	// A literal 0xFF in outbound data must be doubled.
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == iac {
			out = append(out, iac)
		}
		out = append(out, b)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *telnetConn) reply(verb, opt byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write([]byte{iac, verb, opt})
	return err
}

func (c *telnetConn) Read(p []byte) (int, error) {
	raw := make([]byte, len(p))
	for {
		n, err := c.conn.Read(raw)
		out := c.filter(p[:0], raw[:n])
		if len(out) > 0 {
			return len(out), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// filter appends the data bytes of in to dst and answers negotiations.
func (c *telnetConn) filter(dst, in []byte) []byte {
	for _, b := range in {
		if c.inSub {
			switch {
			case c.subIAC && b == se:
				c.inSub, c.subIAC = false, false
			case b == iac:
				c.subIAC = !c.subIAC
			default:
				c.subIAC = false
			}
			continue
		}
		switch c.state {
		case stData:
			if b == iac {
				c.state = stIAC
				continue
			}
			dst = append(dst, b)
		case stIAC:
			switch b {
			case iac:
				dst = append(dst, iac)
				c.state = stData
			case do, dont, will, wont:
				c.verb = b
				c.state = stOption
			case sb:
				c.inSub = true
				c.state = stData
			default:
				c.state = stData
			}
		case stOption:
			switch c.verb {
			case do:
				c.reply(wont, b)
			case will:
				c.reply(dont, b)
			}
			c.state = stData
		}
	}
	return dst
}

var _ io.ReadWriter = (*telnetConn)(nil)
