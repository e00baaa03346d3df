package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/extport/pkg/util"
)

var errClosed = errors.New("session closed")

// stream is the expect buffer shared by every transport. A reader goroutine
// drains the transport into buf; ReadUntil consumes buf up to a marker.
type stream struct {
	addr   string
	w      io.Writer
	eol    string
	closer func() error

	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newStream(addr string, r io.Reader, w io.Writer, eol string, closer func() error) *stream {
	s := &stream{
		addr:   addr,
		w:      w,
		eol:    eol,
		closer: closer,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *stream) readLoop(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.err = err
		}
		s.mu.Unlock()

		select {
		case s.notify <- struct{}{}:
		default:
		}
		if err != nil {
			return
		}
	}
}

// Send writes line plus the line ending and logs it at debug level.
func (s *stream) Send(line string) error {
	util.WithDevice(s.addr).Debugf("EXEC: %s", line)
	return s.write(line)
}

// sendSecret writes a line without logging it.
func (s *stream) sendSecret(line string) error {
	return s.write(line)
}

func (s *stream) write(line string) error {
	select {
	case <-s.done:
		return &ConnectionError{Address: s.addr, Err: errClosed}
	default:
	}
	if _, err := io.WriteString(s.w, line+s.eol); err != nil {
		return &ConnectionError{Address: s.addr, Err: err}
	}
	return nil
}

// ReadUntil implements Channel.
func (s *stream) ReadUntil(marker string, timeout time.Duration) ([]byte, error) {
	out, _, err := s.readUntilAny([]string{marker}, timeout)
	return out, err
}

// readUntilAny returns the data up to and including the earliest of markers,
// and the index of the marker that matched.
func (s *stream) readUntilAny(markers []string, timeout time.Duration) ([]byte, int, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if end, which := indexAny(s.buf, markers); which >= 0 {
			out := make([]byte, end)
			copy(out, s.buf[:end])
			s.buf = s.buf[end:]
			s.mu.Unlock()
			util.WithDevice(s.addr).Debugf("RESP: %s", LastLine(string(out)))
			return out, which, nil
		}
		readErr := s.err
		partial := string(s.buf)
		s.mu.Unlock()

		if readErr != nil {
			return nil, -1, &ConnectionError{
				Address: s.addr,
				Err:     fmt.Errorf("stream ended before %q: %w", markers[0], readErr),
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return nil, -1, &ConnectionError{Address: s.addr, Err: errClosed}
		case <-timer.C:
			return nil, -1, &ReadTimeoutError{
				Marker:  strings.Join(markers, "|"),
				Timeout: timeout,
				Partial: partial,
			}
		}
	}
}

// Close implements Channel.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

// RemoteAddr implements Channel.
func (s *stream) RemoteAddr() string {
	return s.addr
}

// indexAny finds the marker that completes first in buf. It returns the end
// offset of that marker and its index in markers, or -1.
func indexAny(buf []byte, markers []string) (int, int) {
	bestEnd, which := -1, -1
	for i, m := range markers {
		pos := bytes.Index(buf, []byte(m))
		if pos < 0 {
			continue
		}
		end := pos + len(m)
		if which < 0 || end < bestEnd {
			bestEnd, which = end, i
		}
	}
	return bestEnd, which
}
