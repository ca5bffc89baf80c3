package twitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adeithe/go-twitch/irc"
	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/orchestrator"
)

const dispatchTimeout = 15 * time.Second

var (
	// ErrNoChannels indicates that the adapter was started without channels.
	ErrNoChannels = errors.New("twitch: no channels configured")
	// ErrMissingCredentials indicates an empty username or OAuth token.
	ErrMissingCredentials = errors.New("twitch: username or oauth token is empty")
)

// Dispatcher receives the requests built from chat events.
type Dispatcher interface {
	PlayTTS(ctx context.Context, req orchestrator.Request) (int64, error)
}

// Config holds the connection settings and the classification rules.
type Config struct {
	Username   string
	OAuthToken string
	Channels   []string
	Rules      Rules
}

// Adapter reads Twitch chat over IRC and forwards cheers, redemptions and
// subscription messages to the dispatcher.
type Adapter struct {
	cfg        Config
	dispatcher Dispatcher
	log        *logger.Logger
	newConn    func() irc.IConn

	mu   sync.Mutex
	conn irc.IConn
}

// NewAdapter creates a Twitch adapter.
func NewAdapter(cfg Config, dispatcher Dispatcher, log *logger.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		newConn:    func() irc.IConn { return &irc.Conn{} },
		mu:         sync.Mutex{},
		conn:       nil,
	}
}

// Run connects, joins the channels and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if len(a.cfg.Channels) == 0 {
		return ErrNoChannels
	}

	if a.cfg.Username == "" || a.cfg.OAuthToken == "" {
		return ErrMissingCredentials
	}

	conn := a.newConn()

	err := conn.SetLogin(a.cfg.Username, a.cfg.OAuthToken)
	if err != nil {
		return fmt.Errorf("twitch: SetLogin: %w", err)
	}

	conn.OnMessage(func(msg irc.ChatMessage) {
		req, ok := ClassifyChat(msg.IRCMessage.Tags, msg.Sender.DisplayName, msg.Text, a.cfg.Rules)
		if ok {
			a.dispatch(ctx, req)
		}
	})

	conn.OnChannelUserNotice(func(notice irc.UserNotice) {
		// Message holds the system announcement; the viewer's text is the trailing parameter.
		req, ok := ClassifyNotice(notice.IRCMessage.Tags, notice.Sender.DisplayName, notice.IRCMessage.Text, a.cfg.Rules)
		if ok {
			a.dispatch(ctx, req)
		}
	})

	err = conn.Connect()
	if err != nil {
		return fmt.Errorf("twitch: Connect: %w", err)
	}

	err = conn.Join(a.cfg.Channels...)
	if err != nil {
		conn.Close()

		return fmt.Errorf("twitch: Join: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.log.Info("Twitch: connected as %s to %v", a.cfg.Username, a.cfg.Channels)

	<-ctx.Done()

	a.mu.Lock()
	a.conn.Close()
	a.conn = nil
	a.mu.Unlock()

	return nil
}

func (a *Adapter) dispatch(parent context.Context, req orchestrator.Request) {
	ctx, cancel := context.WithTimeout(parent, dispatchTimeout)
	defer cancel()

	id, err := a.dispatcher.PlayTTS(ctx, req)

	switch {
	case errors.Is(err, core.ErrContentRejected):
		a.log.Info("Twitch: dropped %s request from %s", req.Source, req.Username)
	case err != nil:
		a.log.Warn("Twitch: %s request from %s failed: %v", req.Source, req.Username, err)
	default:
		a.log.Info("Twitch: %s request from %s is playing as %d", req.Source, req.Username, id)
	}
}
