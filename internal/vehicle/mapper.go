package vehicle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoAck means the controller did not answer before the deadline.
	ErrNoAck = errors.New("no acknowledgement from controller")
	// ErrNak means the controller rejected the frame.
	ErrNak = errors.New("controller rejected command")
)

// CommandError is returned when every attempt to deliver a frame failed. It is not fatal:
// the control loop logs it and carries on with the next frame.
type CommandError struct {
	Channel  Channel
	Value    int
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s command %d failed after %d attempts: %v", e.Channel, e.Value, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Config describes the serial link and the actuator mapping.
type Config struct {
	Device           string        `yaml:"device"`
	Baud             int           `yaml:"baud"`
	InvertSteering   bool          `yaml:"invert_steering"`
	DriveLimit       int           `yaml:"drive_limit"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	Attempts         int           `yaml:"attempts"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	QuietPeriod      time.Duration `yaml:"quiet_period"`
}

// DefaultConfig matches the motor controller firmware.
func DefaultConfig() Config {
	return Config{
		Device:           "/dev/ttyACM0",
		Baud:             115200,
		InvertSteering:   true,
		DriveLimit:       15,
		AckTimeout:       50 * time.Millisecond,
		Attempts:         3,
		HandshakeTimeout: 2 * time.Second,
		QuietPeriod:      20 * time.Millisecond,
	}
}

// Validate checks the link settings.
func (c Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be > 0, got %d", c.Baud)
	}
	if c.DriveLimit < 0 || c.DriveLimit > 100 {
		return fmt.Errorf("drive_limit must be within [0,100], got %d", c.DriveLimit)
	}
	if c.AckTimeout <= 0 || c.QuietPeriod <= 0 {
		return fmt.Errorf("ack_timeout and quiet_period must be > 0")
	}
	if c.Attempts < 1 {
		return fmt.Errorf("attempts must be >= 1, got %d", c.Attempts)
	}
	return nil
}

// Mapper turns logical direction and speed into acknowledged serial frames.
type Mapper struct {
	port Port
	cfg  Config
	log  logrus.FieldLogger
}

func NewMapper(port Port, cfg Config, log logrus.FieldLogger) *Mapper {
	return &Mapper{port: port, cfg: cfg, log: log}
}

// Apply sends direction and speed, both in [-100,100]. Direction is positive to the right.
// Both channels are always attempted; failures are joined *CommandError values.
func (m *Mapper) Apply(ctx context.Context, direction, speed int) error {
	steer := clamp(direction, -100, 100)
	if m.cfg.InvertSteering {
		steer = -steer
	}
	drive := clamp(speed, -100, 100) * m.cfg.DriveLimit / 100

	steerErr := m.send(ctx, ChannelSteering, steer)
	if errors.Is(steerErr, context.Canceled) || errors.Is(steerErr, context.DeadlineExceeded) {
		return steerErr
	}
	return errors.Join(steerErr, m.send(ctx, ChannelDrive, drive))
}

// Stop centers the wheels and cuts the drive.
func (m *Mapper) Stop(ctx context.Context) error {
	return m.Apply(ctx, 0, 0)
}

// Handshake waits for the controller banner, identifies with 'i' and returns everything read.
// A silent controller is logged, not an error.
func (m *Mapper) Handshake(ctx context.Context) (string, error) {
	banner, err := m.readUntilQuiet(ctx, m.cfg.HandshakeTimeout)
	if err != nil {
		return "", err
	}
	if banner == "" {
		m.log.Warn("no banner from controller before handshake timeout")
	}
	if _, err := m.port.Write([]byte{'i'}); err != nil {
		return banner, fmt.Errorf("handshake write: %w", err)
	}
	reply, err := m.readUntilQuiet(ctx, m.cfg.HandshakeTimeout)
	if err != nil {
		return banner, err
	}
	m.log.WithFields(logrus.Fields{"banner": banner, "reply": reply}).Info("controller handshake complete")
	return banner + reply, nil
}

func (m *Mapper) send(ctx context.Context, ch Channel, value int) error {
	frame := Encode(ch, value)
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.port.Write(frame); err != nil {
			lastErr = fmt.Errorf("write: %w", err)
		} else if lastErr = m.awaitAck(); lastErr == nil {
			return nil
		}

		m.log.WithFields(logrus.Fields{
			"channel": ch.String(),
			"value":   value,
			"attempt": attempt,
		}).WithError(lastErr).Debug("command not acknowledged, resetting link")
		if err := m.reset(ctx); err != nil {
			lastErr = errors.Join(lastErr, err)
		}
	}
	return &CommandError{Channel: ch, Value: value, Attempts: m.cfg.Attempts, Err: lastErr}
}

// awaitAck reads single bytes until ACK, NAK or the deadline. time.Now carries a
// monotonic reading, so wall clock steps do not stretch the wait.
func (m *Mapper) awaitAck() error {
	deadline := time.Now().Add(m.cfg.AckTimeout)
	buf := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrNoAck
		}
		if err := m.port.SetReadTimeout(remaining); err != nil {
			return fmt.Errorf("set read timeout: %w", err)
		}
		n, err := m.port.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			continue
		}
		switch buf[0] {
		case ACK:
			return nil
		case NAK:
			return ErrNak
		}
	}
}

// reset asks the controller to resynchronise and discards whatever it sends back.
func (m *Mapper) reset(ctx context.Context) error {
	if _, err := m.port.Write([]byte("rrr")); err != nil {
		return fmt.Errorf("reset write: %w", err)
	}
	if _, err := m.readUntilQuiet(ctx, m.cfg.QuietPeriod); err != nil {
		return err
	}
	return m.port.ResetInputBuffer()
}

// readUntilQuiet collects bytes until the line has been idle for QuietPeriod after some
// data arrived, or nothing arrived within wait.
func (m *Mapper) readUntilQuiet(ctx context.Context, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	var out []byte
	buf := make([]byte, 128)
	for {
		if err := ctx.Err(); err != nil {
			return string(out), err
		}
		if err := m.port.SetReadTimeout(m.cfg.QuietPeriod); err != nil {
			return string(out), fmt.Errorf("set read timeout: %w", err)
		}
		n, err := m.port.Read(buf)
		if err != nil {
			return string(out), fmt.Errorf("read: %w", err)
		}
		out = append(out, buf[:n]...)
		if n == 0 && (len(out) > 0 || !time.Now().Before(deadline)) {
			return string(out), nil
		}
	}
}
