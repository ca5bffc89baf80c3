package twitch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adeithe/go-twitch/irc"
	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/audit"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/ingress/twitch"
	"github.com/book-expert/stream-tts/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory irc.IConn. Methods the adapter does not use fall
// through to the nil embedded interface.
type fakeConn struct {
	irc.IConn

	mu        sync.Mutex
	login     string
	joined    []string
	closed    bool
	onMessage []func(irc.ChatMessage)
	onNotice  []func(irc.UserNotice)
	ready     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{ready: make(chan struct{})}
}

func (f *fakeConn) SetLogin(username, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.login = username

	return nil
}

func (f *fakeConn) Connect() error { return nil }

func (f *fakeConn) Join(channels ...string) error {
	f.mu.Lock()
	f.joined = append(f.joined, channels...)
	f.mu.Unlock()

	close(f.ready)

	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
}

func (f *fakeConn) OnMessage(fn func(irc.ChatMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onMessage = append(f.onMessage, fn)
}

func (f *fakeConn) OnChannelUserNotice(fn func(irc.UserNotice)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onNotice = append(f.onNotice, fn)
}

func (f *fakeConn) emitMessage(msg irc.ChatMessage) {
	f.mu.Lock()
	handlers := append([]func(irc.ChatMessage){}, f.onMessage...)
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(msg)
	}
}

func (f *fakeConn) emitNotice(notice irc.UserNotice) {
	f.mu.Lock()
	handlers := append([]func(irc.UserNotice){}, f.onNotice...)
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(notice)
	}
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	err      error
}

func (r *recordingDispatcher) PlayTTS(_ context.Context, req orchestrator.Request) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, req)

	return int64(len(r.requests)), r.err
}

func (r *recordingDispatcher) received() []orchestrator.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]orchestrator.Request(nil), r.requests...)
}

func newTestAdapter(t *testing.T, cfg twitch.Config) (*twitch.Adapter, *fakeConn, *recordingDispatcher) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "twitch-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	conn := newFakeConn()
	dispatcher := &recordingDispatcher{}

	adapter := twitch.NewAdapter(cfg, dispatcher, log)
	adapter.SetConnFactory(func() irc.IConn { return conn })

	return adapter, conn, dispatcher
}

var testConfig = twitch.Config{
	Username:   "ttsbot",
	OAuthToken: "oauth:token",
	Channels:   []string{"somestreamer"},
	Rules:      testRules,
}

func TestAdapter_ForwardsChatAndNotices(t *testing.T) {
	t.Parallel()

	adapter, conn, dispatcher := newTestAdapter(t, testConfig)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- adapter.Run(ctx)
	}()

	select {
	case <-conn.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("adapter never joined")
	}

	assert.Equal(t, []string{"somestreamer"}, conn.joined)
	assert.Equal(t, "ttsbot", conn.login)

	conn.emitMessage(irc.ChatMessage{
		IRCMessage: irc.Message{Tags: map[string]string{"bits": "200"}, Text: "Cheer200 cheers all"},
		Sender:     irc.ChatSender{DisplayName: "Cheerer"},
		Text:       "Cheer200 cheers all",
	})
	conn.emitMessage(irc.ChatMessage{
		IRCMessage: irc.Message{Tags: map[string]string{}, Text: "just chatting"},
		Sender:     irc.ChatSender{DisplayName: "Lurker"},
		Text:       "just chatting",
	})
	conn.emitNotice(irc.UserNotice{
		IRCMessage: irc.Message{Tags: map[string]string{"msg-id": "resub"}, Text: "three months already"},
		Sender:     irc.ChatSender{DisplayName: "Loyal"},
		Message:    "Loyal subscribed at Tier 1. They've subscribed for 3 months!",
		Type:       "resub",
	})

	received := dispatcher.received()
	require.Len(t, received, 2)
	assert.Equal(t, orchestrator.Request{
		Text: "cheers all", Username: "Cheerer", Source: audit.SourceBits, CharLimit: 200, AuditID: nil,
	}, received[0])
	assert.Equal(t, orchestrator.Request{
		Text: "three months already", Username: "Loyal", Source: audit.SourceSubscription, CharLimit: 200, AuditID: nil,
	}, received[1])

	cancel()

	require.NoError(t, <-errChan)

	conn.mu.Lock()
	defer conn.mu.Unlock()

	assert.True(t, conn.closed)
}

func TestAdapter_DispatchErrorsDoNotStopIngress(t *testing.T) {
	t.Parallel()

	adapter, conn, dispatcher := newTestAdapter(t, testConfig)
	dispatcher.err = core.ErrContentRejected

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- adapter.Run(ctx)
	}()

	<-conn.ready

	for range 2 {
		conn.emitMessage(irc.ChatMessage{
			IRCMessage: irc.Message{Tags: map[string]string{"custom-reward-id": "reward-123"}, Text: "say it"},
			Sender:     irc.ChatSender{DisplayName: "Redeemer"},
			Text:       "say it",
		})
	}

	assert.Len(t, dispatcher.received(), 2)

	cancel()
	require.NoError(t, <-errChan)
}

func TestAdapter_RunValidatesConfig(t *testing.T) {
	t.Parallel()

	noChannels := testConfig
	noChannels.Channels = nil

	adapter, _, _ := newTestAdapter(t, noChannels)
	require.ErrorIs(t, adapter.Run(context.Background()), twitch.ErrNoChannels)

	noToken := testConfig
	noToken.OAuthToken = ""

	adapter, _, _ = newTestAdapter(t, noToken)
	require.ErrorIs(t, adapter.Run(context.Background()), twitch.ErrMissingCredentials)
}

func TestConn_SatisfiesAdapterContract(t *testing.T) {
	t.Parallel()

	var conn irc.IConn = &irc.Conn{}

	assert.NotPanics(t, func() {
		conn.OnMessage(func(irc.ChatMessage) {})
		conn.OnChannelUserNotice(func(irc.UserNotice) {})
	})
}
