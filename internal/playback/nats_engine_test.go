package playback_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/playback"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPlaySubject = "test.tts.play"
	testDoneSubject = "test.tts.done"
)

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func newTestEngine(t *testing.T, natsConnection *nats.Conn) *playback.NatsEngine {
	t.Helper()

	log, err := logger.New(t.TempDir(), "playback-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return playback.NewNatsEngine(natsConnection, testPlaySubject, testDoneSubject, 2*time.Second, log)
}

// respondWith installs a fake engine that answers every play request with reply.
func respondWith(t *testing.T, natsConnection *nats.Conn, reply string, received chan<- core.PlayRequest) {
	t.Helper()

	sub, err := natsConnection.Subscribe(testPlaySubject, func(msg *nats.Msg) {
		var req core.PlayRequest

		if err := json.Unmarshal(msg.Data, &req); err == nil && received != nil {
			received <- req
		}

		_ = msg.Respond([]byte(reply))
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sub.Unsubscribe() })
}

func TestNatsEngine_Invoke_Success(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	engine := newTestEngine(t, natsConnection)

	received := make(chan core.PlayRequest, 1)
	respondWith(t, natsConnection, `{"id":42}`, received)

	id, err := engine.Invoke(context.Background(), core.PlayRequest{
		ID:       nil,
		Device:   "Speakers",
		Volume:   80,
		Provider: "stream-elements",
		URL:      "https://api.example.com/speech",
		Params:   []core.Param{{Key: "voice", Value: "Brian"}, {Key: "text", Value: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	req := <-received
	assert.Equal(t, "Speakers", req.Device)
	assert.Equal(t, 80, req.Volume)
	assert.Equal(t, "stream-elements", req.Provider)
	assert.Nil(t, req.ID)
	assert.Equal(t, []core.Param{{Key: "voice", Value: "Brian"}, {Key: "text", Value: "hello"}}, req.Params)
}

func TestNatsEngine_Invoke_EngineError(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	engine := newTestEngine(t, natsConnection)
	respondWith(t, natsConnection, `{"error":"device not found"}`, nil)

	_, err := engine.Invoke(context.Background(), core.PlayRequest{})
	require.ErrorIs(t, err, core.ErrDispatch)
	assert.Contains(t, err.Error(), "device not found")
}

func TestNatsEngine_Invoke_NoResponder(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	engine := newTestEngine(t, natsConnection)

	_, err := engine.Invoke(context.Background(), core.PlayRequest{})
	require.ErrorIs(t, err, core.ErrDispatch)
}

func TestNatsEngine_Invoke_MalformedID(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	engine := newTestEngine(t, natsConnection)
	respondWith(t, natsConnection, `{"id":"forty-two"}`, nil)

	_, err := engine.Invoke(context.Background(), core.PlayRequest{})
	require.ErrorIs(t, err, core.ErrContractViolation)
}

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "integer", raw: `42`, want: 42},
		{name: "zero", raw: `0`, want: 0},
		{name: "fraction", raw: `4.5`, wantErr: true},
		{name: "string", raw: `"42"`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "missing", raw: ``, wantErr: true},
		{name: "object", raw: `{"id":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := playback.ParseID(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrContractViolation)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestNatsEngine_OnFinished(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	engine := newTestEngine(t, natsConnection)

	var (
		mu  sync.Mutex
		ids []int64
	)

	stop, err := engine.OnFinished(func(id int64) {
		mu.Lock()
		defer mu.Unlock()

		ids = append(ids, id)
	})
	require.NoError(t, err)

	require.NoError(t, natsConnection.Publish(testDoneSubject, []byte("7")))
	require.NoError(t, natsConnection.Publish(testDoneSubject, []byte("not-an-id")))
	require.NoError(t, natsConnection.Publish(testDoneSubject, []byte("9")))
	require.NoError(t, natsConnection.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(ids) == 2
	}, 5*time.Second, 10*time.Millisecond)

	stop()
	stop()

	require.NoError(t, natsConnection.Publish(testDoneSubject, []byte("11")))
	require.NoError(t, natsConnection.Flush())
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{7, 9}, ids)
}
