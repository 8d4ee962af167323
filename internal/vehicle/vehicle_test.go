package vehicle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPort is an in-memory controller. Every command frame pops the next scripted reply;
// a zero reply means the controller stays silent.
type mockPort struct {
	written bytes.Buffer
	in      bytes.Buffer
	replies []byte
	resets  int
	failErr error
}

func (m *mockPort) Write(p []byte) (int, error) {
	if m.failErr != nil {
		return 0, m.failErr
	}
	m.written.Write(p)
	if bytes.HasSuffix(p, []byte{'\n'}) && len(m.replies) > 0 {
		if r := m.replies[0]; r != 0 {
			m.in.WriteByte(r)
		}
		m.replies = m.replies[1:]
	}
	return len(p), nil
}

func (m *mockPort) Read(p []byte) (int, error) {
	if m.in.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return m.in.Read(p)
}

func (m *mockPort) SetReadTimeout(time.Duration) error { return nil }
func (m *mockPort) ResetInputBuffer() error           { m.resets++; m.in.Reset(); return nil }
func (m *mockPort) Close() error                      { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AckTimeout = 5 * time.Millisecond
	cfg.QuietPeriod = 2 * time.Millisecond
	cfg.HandshakeTimeout = 10 * time.Millisecond
	return cfg
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, ch := range []Channel{ChannelSteering, ChannelDrive} {
		for v := -100; v <= 100; v++ {
			frame := Encode(ch, v)
			require.Len(t, frame, 5)

			gotCh, got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, ch, gotCh)
			assert.Equal(t, v, got, "frame %q", frame)
		}
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "s100\n", string(Encode(ChannelSteering, 0)))
	assert.Equal(t, "d000\n", string(Encode(ChannelDrive, -100)))
	assert.Equal(t, "s200\n", string(Encode(ChannelSteering, 150)), "values above range clamp")
	assert.Equal(t, "d000\n", string(Encode(ChannelDrive, -150)), "values below range clamp")
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, frame := range []string{"", "s100", "x100\n", "s1a0\n", "s201\n", "s-10\n", "s+99\n", "d+00\n", "s 50\n"} {
		_, _, err := Decode([]byte(frame))
		assert.Error(t, err, "frame %q", frame)
	}
}

func TestApplyMapsValues(t *testing.T) {
	port := &mockPort{replies: []byte{ACK, ACK}}
	m := NewMapper(port, testConfig(), quietLogger())

	require.NoError(t, m.Apply(context.Background(), 50, 100))
	// Steering is inverted for the linkage, drive is limited to 15%.
	assert.Equal(t, "s050\nd115\n", port.written.String())
}

func TestApplyRetriesAfterNak(t *testing.T) {
	port := &mockPort{replies: []byte{NAK, ACK, ACK}}
	m := NewMapper(port, testConfig(), quietLogger())

	require.NoError(t, m.Apply(context.Background(), 0, 0))
	assert.Equal(t, "s100\nrrrs100\nd100\n", port.written.String())
	assert.Equal(t, 1, port.resets)
}

func TestApplyGivesUpAfterAttempts(t *testing.T) {
	port := &mockPort{replies: []byte{0, 0, 0, ACK}}
	m := NewMapper(port, testConfig(), quietLogger())

	err := m.Apply(context.Background(), 10, 0)
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, ChannelSteering, cmdErr.Channel)
	assert.Equal(t, -10, cmdErr.Value)
	assert.Equal(t, 3, cmdErr.Attempts)
	assert.ErrorIs(t, err, ErrNoAck)

	// The drive frame still goes out after steering fails.
	assert.Contains(t, port.written.String(), "d100\n")
	assert.Equal(t, 3, port.resets)
}

func TestApplyWriteFailure(t *testing.T) {
	port := &mockPort{failErr: io.ErrClosedPipe}
	m := NewMapper(port, testConfig(), quietLogger())

	err := m.Apply(context.Background(), 0, 0)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestApplyHonoursCancellation(t *testing.T) {
	port := &mockPort{replies: []byte{ACK, ACK}}
	m := NewMapper(port, testConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Apply(ctx, 0, 0), context.Canceled)
	assert.Zero(t, port.written.Len())
}

func TestStop(t *testing.T) {
	port := &mockPort{replies: []byte{ACK, ACK}}
	m := NewMapper(port, testConfig(), quietLogger())

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, "s100\nd100\n", port.written.String())
}

func TestHandshake(t *testing.T) {
	port := &mockPort{}
	port.in.WriteString("truck controller v2\n")
	m := NewMapper(port, testConfig(), quietLogger())

	got, err := m.Handshake(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "truck controller v2\n", got)
	assert.Equal(t, "i", port.written.String())
}

func TestDryRunPortAcknowledges(t *testing.T) {
	port := NewDryRunPort()
	m := NewMapper(port, testConfig(), quietLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Apply(context.Background(), i*10, i*20))
	}
	assert.Equal(t, 10, port.Sent())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Attempts = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DriveLimit = 150
	assert.Error(t, cfg.Validate())
}
