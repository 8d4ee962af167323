package vehicle

import (
	"fmt"
	"strconv"
)

// Channel selects the actuator a command frame addresses.
type Channel byte

const (
	ChannelSteering Channel = 's'
	ChannelDrive    Channel = 'd'
)

func (c Channel) String() string {
	switch c {
	case ChannelSteering:
		return "steering"
	case ChannelDrive:
		return "drive"
	default:
		return fmt.Sprintf("Channel(%q)", byte(c))
	}
}

const (
	// ACK and NAK are the single byte replies of the motor controller.
	ACK byte = 0x06
	NAK byte = 0x15

	wireOffset = 100
	frameLen   = 5
)

// Encode builds the frame for value: the channel letter, value+100 as three digits, newline.
// Values outside [-100,100] are clamped.
func Encode(ch Channel, value int) []byte {
	v := clamp(value, -100, 100) + wireOffset
	return []byte{byte(ch), byte('0' + v/100), byte('0' + v/10%10), byte('0' + v%10), '\n'}
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Channel, int, error) {
	if len(frame) != frameLen || frame[frameLen-1] != '\n' {
		return 0, 0, fmt.Errorf("malformed frame %q", frame)
	}
	ch := Channel(frame[0])
	if ch != ChannelSteering && ch != ChannelDrive {
		return 0, 0, fmt.Errorf("unknown channel %q", frame[0])
	}
	for _, c := range frame[1:4] {
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("frame %q: value is not three digits", frame)
		}
	}
	n, err := strconv.Atoi(string(frame[1:4]))
	if err != nil {
		return 0, 0, fmt.Errorf("frame %q: %w", frame, err)
	}
	if n < 0 || n > 2*wireOffset {
		return 0, 0, fmt.Errorf("frame %q: value %d out of range", frame, n)
	}
	return ch, n - wireOffset, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
