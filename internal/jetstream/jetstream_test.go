package jetstream

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/server"
	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		id      string
		done    bool
		ok      bool
	}{
		{subject: FrameSubject("abc"), id: "abc", ok: true},
		{subject: DoneSubject("abc"), id: "abc", done: true, ok: true},
		{subject: "chatkit.exchange.", ok: false},
		{subject: "chatkit.exchange..done", done: true, ok: false},
		{subject: "other.abc", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			id, done, ok := ParseSubject(tt.subject)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.id, id)
			}
			assert.Equal(t, tt.done, done)
		})
	}
}

func connect(t *testing.T) nats.JetStreamContext {
	t.Helper()
	ns, err := NewServer(Options{StoreDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	nc, js, err := ns.Open("chatkit-test")
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return js
}

func TestNewServerRequiresStoreDir(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestServerShutdownTwice(t *testing.T) {
	ns, err := NewServer(Options{StoreDir: t.TempDir(), ReadyTimeout: time.Second})
	require.NoError(t, err)

	nc, err := ns.Connect("chatkit-test")
	require.NoError(t, err)
	defer nc.Close()
	assert.Equal(t, "chatkit", nc.ConnectedServerName())

	ns.Shutdown()
	ns.Shutdown()
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	js := connect(t)
	require.NoError(t, EnsureStream(js))

	info, err := js.StreamInfo(StreamName)
	require.NoError(t, err)
	assert.Equal(t, nats.WorkQueuePolicy, info.Config.Retention)
}

func TestPublisherRecordsExchange(t *testing.T) {
	js := connect(t)
	sub, err := js.SubscribeSync(ExchangeSubjects)
	require.NoError(t, err)

	pub := NewPublisher(js)
	pub.Frame("ex1", []byte("data: {}\n\n"))
	pub.Done(server.Exchange{ID: "ex1", DeploymentID: "echo", StatusCode: 200, Stream: true, FrameCount: 1})
	require.True(t, pub.Wait(5*time.Second))

	frame, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, FrameSubject("ex1"), frame.Subject)
	assert.Equal(t, "data: {}\n\n", string(frame.Data))

	done, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, DoneSubject("ex1"), done.Subject)

	var ex server.Exchange
	require.NoError(t, json.Unmarshal(done.Data, &ex))
	assert.Equal(t, "echo", ex.DeploymentID)
	assert.Equal(t, 1, ex.FrameCount)
}
