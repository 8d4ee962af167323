package autopilot

import (
	"bufio"
	"context"
	"io"
	"unicode"
)

// Command is an operator request from the console.
type Command int

const (
	CommandAutopilot Command = iota
	CommandIdle
	CommandManual
	CommandCalibrate
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandAutopilot:
		return "autopilot"
	case CommandIdle:
		return "idle"
	case CommandManual:
		return "manual"
	case CommandCalibrate:
		return "calibrate"
	case CommandQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// ParseKey maps a console key to a command.
func ParseKey(r rune) (Command, bool) {
	switch unicode.ToLower(r) {
	case 'a':
		return CommandAutopilot, true
	case 'i', 's':
		return CommandIdle, true
	case 'm':
		return CommandManual, true
	case 'c':
		return CommandCalibrate, true
	case 'q':
		return CommandQuit, true
	}
	return 0, false
}

// ReadConsole forwards every recognised key read from r until EOF or cancellation.
// Unknown keys are passed to unknown, which may be nil.
func ReadConsole(ctx context.Context, r io.Reader, out chan<- Command, unknown func(rune)) {
	br := bufio.NewReader(r)
	for {
		ch, _, err := br.ReadRune()
		if err != nil {
			return
		}
		if unicode.IsSpace(ch) {
			continue
		}
		cmd, ok := ParseKey(ch)
		if !ok {
			if unknown != nil {
				unknown(ch)
			}
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}
