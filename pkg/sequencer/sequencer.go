// Package sequencer runs ordered configuration commands over a session
// channel. Each command's response is read before the next is sent; there
// is no atomicity across a sequence.
package sequencer

import (
	"context"
	"strings"
	"time"

	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

// Command is one line to send. A zero Timeout uses the sequencer default.
type Command struct {
	Line    string
	Timeout time.Duration
}

// Commands wraps plain lines with the default timeout.
func Commands(lines ...string) []Command {
	cmds := make([]Command, len(lines))
	for i, l := range lines {
		cmds[i] = Command{Line: l}
	}
	return cmds
}

// Response is the device output collected for one command.
type Response struct {
	Index    int
	Command  string
	Output   string
	ExitCode int // -1 when the dialect does not report one
}

// LastLine returns the last non-blank output line.
func (r Response) LastLine() string {
	return session.LastLine(r.Output)
}

// Failed reports whether the device signalled an error for the command.
func (r Response) Failed() bool {
	return r.ExitCode > 0
}

// Sequencer sends commands in strict order.
type Sequencer struct {
	Framer  Framer
	Timeout time.Duration
	// StopOnFailure aborts at the first command the device rejects instead
	// of sending the rest.
	StopOnFailure bool
}

// New returns a sequencer with the given framer and default timeout.
func New(f Framer, timeout time.Duration) *Sequencer {
	return &Sequencer{Framer: f, Timeout: timeout}
}

// Run sends cmds one at a time, reading each response up to the framer's
// completion marker before sending the next. It returns every response
// collected so far along with the first error. Cancellation is only
// honored before the first command is sent.
func (s *Sequencer) Run(ctx context.Context, ch session.Channel, cmds []Command) ([]Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := util.WithDevice(ch.RemoteAddr())
	responses := make([]Response, 0, len(cmds))
	last := ""

	for i, cmd := range cmds {
		timeout := cmd.Timeout
		if timeout == 0 {
			timeout = s.timeout()
		}
		if err := ch.Send(s.Framer.Frame(cmd.Line)); err != nil {
			return responses, s.stepError(ch, i, cmd.Line, last, err)
		}
		raw, err := ch.ReadUntil(s.Framer.Marker(), timeout)
		if err != nil {
			return responses, s.stepError(ch, i, cmd.Line, last, err)
		}

		out, code := s.Framer.Parse(cmd.Line, raw)
		resp := Response{Index: i, Command: cmd.Line, Output: out, ExitCode: code}
		responses = append(responses, resp)
		if l := resp.LastLine(); l != "" {
			last = l
		}

		if resp.Failed() {
			log.Warnf("command #%d %q failed (rc=%d): %s", i, cmd.Line, code, resp.LastLine())
			if s.StopOnFailure {
				return responses, s.stepError(ch, i, cmd.Line, last,
					&util.CommandRejectedError{Command: cmd.Line, Response: resp.LastLine()})
			}
		}
	}
	return responses, nil
}

// RunLines is Run over plain lines.
func (s *Sequencer) RunLines(ctx context.Context, ch session.Channel, lines ...string) ([]Response, error) {
	return s.Run(ctx, ch, Commands(lines...))
}

// Query runs a single command and returns its output. A rejected command is
// an error regardless of StopOnFailure.
func (s *Sequencer) Query(ctx context.Context, ch session.Channel, line string) (string, error) {
	resp, err := s.Run(ctx, ch, Commands(line))
	if err != nil {
		return "", err
	}
	if resp[0].Failed() {
		return resp[0].Output, s.stepError(ch, 0, line, resp[0].LastLine(),
			&util.CommandRejectedError{Command: line, Response: resp[0].LastLine()})
	}
	return resp[0].Output, nil
}

// Sync runs the framer's no-op to drain anything the device sent before the
// first command, such as a login banner.
func (s *Sequencer) Sync(ctx context.Context, ch session.Channel) error {
	_, err := s.Run(ctx, ch, Commands(s.Framer.Noop()))
	return err
}

// Failures returns the responses the device rejected.
func Failures(responses []Response) []Response {
	var failed []Response
	for _, r := range responses {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

func (s *Sequencer) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return session.DefaultReadTimeout
}

func (s *Sequencer) stepError(ch session.Channel, i int, line, last string, err error) error {
	return &util.StepError{
		Device:       ch.RemoteAddr(),
		Step:         util.StepCommand,
		Index:        i,
		Command:      line,
		LastResponse: last,
		Err:          err,
	}
}

// trimLines drops blank leading and trailing lines and normalizes CRLF.
func trimLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Trim(s, "\n")
}
