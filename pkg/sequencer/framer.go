package sequencer

import (
	"fmt"
	"strconv"
	"strings"
)

// Framer adapts the sequencer to a device dialect: how a command is sent,
// which marker ends its response and how the response is interpreted.
type Framer interface {
	Frame(line string) string
	Marker() string
	Parse(line string, raw []byte) (output string, exitCode int)
	// Noop is a command with no effect, used by Sync.
	Noop() string
}

// ShellMarker terminates every framed shell command's output.
const ShellMarker = "@@EXTPORT"

// ShellFramer frames commands for a POSIX shell without a PTY. After each
// command the shell prints its exit status and ShellMarker. The marker is
// printed from two halves so a terminal echo of the input never contains it.
type ShellFramer struct{}

func (ShellFramer) Frame(line string) string {
	half := len(ShellMarker) / 2
	return fmt.Sprintf("%s\nprintf 'rc=%%d\\n%%s%%s\\n' \"$?\" '%s' '%s'",
		line, ShellMarker[:half], ShellMarker[half:])
}

func (ShellFramer) Marker() string { return ShellMarker }

func (ShellFramer) Noop() string { return "true" }

// Parse splits off the trailing rc=N line.
func (ShellFramer) Parse(_ string, raw []byte) (string, int) {
	text := strings.TrimSuffix(string(raw), ShellMarker)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		rest, ok := strings.CutPrefix(lines[i], "rc=")
		if !ok {
			continue
		}
		code, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			break
		}
		return trimLines(strings.Join(lines[:i], "\n")), code
	}
	return trimLines(text), -1
}

// PromptFramer frames commands for a line-oriented CLI that echoes input and
// prints a prompt after each response. Output lines starting with one of
// ErrorPrefixes mark the command as rejected.
type PromptFramer struct {
	Prompt        string
	ErrorPrefixes []string
}

// IOSFramer returns a PromptFramer for the privileged-exec prompt of an
// IOS-style CLI.
func IOSFramer() PromptFramer {
	return PromptFramer{
		Prompt:        "#",
		ErrorPrefixes: []string{"% Invalid", "% Incomplete", "% Ambiguous", "% Unknown"},
	}
}

func (f PromptFramer) Frame(line string) string { return line }

func (f PromptFramer) Marker() string { return f.Prompt }

func (f PromptFramer) Noop() string { return "" }

// Parse drops the echoed command and the trailing prompt.
func (f PromptFramer) Parse(line string, raw []byte) (string, int) {
	text := trimLines(strings.TrimSuffix(string(raw), f.Prompt))
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(line) {
		lines = lines[1:]
	}
	// The final line is the prompt's hostname part.
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	code := 0
	for _, l := range lines {
		for _, p := range f.ErrorPrefixes {
			if strings.HasPrefix(strings.TrimSpace(l), p) {
				code = 1
			}
		}
	}
	return strings.Join(lines, "\n"), code
}
