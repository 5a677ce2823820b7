package nats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs       []published
	publishErr error
	flushed    int
	drained    bool
	closed     bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	f.flushed++
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestClient_PublishDispatch(t *testing.T) {
	fc := &fakeConn{}
	c := &Client{nc: fc, logger: zap.NewNop(), cfg: config.Default().Nats}

	handle := models.SessionHandle{Name: "gpu_session_0", Backend: "screen", ResourceID: 0, Combinations: 3, RunID: "run-1"}
	require.NoError(t, c.PublishDispatch(models.NewDispatchEvent("host-a", handle, []string{"python a.py"})))

	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "sweep.dispatch.run-1", fc.msgs[0].subject)
	assert.Equal(t, 1, fc.flushed)

	var got models.DispatchEvent
	require.NoError(t, json.Unmarshal(fc.msgs[0].data, &got))
	assert.Equal(t, "gpu_session_0", got.Session)
	assert.Equal(t, "host-a", got.Host)
	assert.Equal(t, 3, got.Combinations)
	assert.Equal(t, []string{"python a.py"}, got.Commands)

	c.Close()
	assert.True(t, fc.drained)
	assert.True(t, fc.closed)
}

func TestClient_PublishError(t *testing.T) {
	fc := &fakeConn{publishErr: errors.New("nats: connection closed")}
	c := &Client{nc: fc, logger: zap.NewNop(), cfg: config.Default().Nats}

	err := c.PublishDispatch(&models.DispatchEvent{RunID: "r"})
	assert.Error(t, err)
	assert.Zero(t, fc.flushed)
}

func TestNewPublisher(t *testing.T) {
	cfg := config.Default().Nats
	assert.IsType(t, NoopPublisher{}, NewPublisher(cfg, zap.NewNop()))

	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	assert.IsType(t, NoopPublisher{}, NewPublisher(cfg, zap.NewNop()), "unreachable server degrades to no-op")
}
