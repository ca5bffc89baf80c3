package settings_test

import (
	"sync"
	"testing"
	"time"

	"github.com/book-expert/stream-tts/internal/settings"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts an in-memory NATS server with JetStream enabled.
func startTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) record(value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = append(r.values, string(value))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.values...)
}

func TestKVSource_WatchDeliversCurrentAndLaterValues(t *testing.T) {
	t.Parallel()

	_, natsConnection := startTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	source, err := settings.NewKVSource(jetstreamContext, "test-settings", newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, source.Put(settings.KeyVolume, []byte(`10`)))

	rec := &recorder{}
	stop, err := source.Watch(settings.KeyVolume, rec.record)
	require.NoError(t, err)

	require.NoError(t, source.Put(settings.KeyVolume, []byte(`20`)))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"10", "20"}, rec.snapshot())

	stop()
	stop()

	require.NoError(t, source.Put(settings.KeyVolume, []byte(`30`)))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"10", "20"}, rec.snapshot())
}

func TestKVSource_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	_, natsConnection := startTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := settings.NewKVSource(jetstreamContext, "shared-settings", newTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.Put(settings.KeyDevice, []byte(`"Headset"`)))

	second, err := settings.NewKVSource(jetstreamContext, "shared-settings", newTestLogger(t))
	require.NoError(t, err)

	holder := settings.NewHolder(second, newTestLogger(t))
	require.NoError(t, holder.Start())
	t.Cleanup(holder.Close)

	require.Eventually(t, func() bool {
		return holder.Snapshot().Device == "Headset"
	}, 5*time.Second, 10*time.Millisecond)
}
