// Package playback talks to the external audio playback engine over NATS.
// Invocations are request/reply; completions arrive as plain id messages.
package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/nats-io/nats.go"
)

const defaultRequestTimeout = 10 * time.Second

// Reply is the engine's answer to a play request. Exactly one of ID and Error
// is expected to be set.
type Reply struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NatsEngine implements core.PlaybackEngine.
type NatsEngine struct {
	natsConnection *nats.Conn
	playSubject    string
	doneSubject    string
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsEngine creates an engine client. A non-positive timeout falls back
// to the default request timeout.
func NewNatsEngine(
	natsConnection *nats.Conn,
	playSubject, doneSubject string,
	timeout time.Duration,
	log *logger.Logger,
) *NatsEngine {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &NatsEngine{
		natsConnection: natsConnection,
		playSubject:    playSubject,
		doneSubject:    doneSubject,
		timeout:        timeout,
		log:            log,
	}
}

// Invoke sends req and waits for the engine to accept it.
func (e *NatsEngine) Invoke(ctx context.Context, req core.PlayRequest) (int64, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to marshal play request: %w", core.ErrDispatch, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msg, err := e.natsConnection.RequestWithContext(ctx, e.playSubject, data)
	if err != nil {
		return 0, fmt.Errorf("%w: request on subject %s: %w", core.ErrDispatch, e.playSubject, err)
	}

	return ParseReply(msg.Data)
}

// OnFinished subscribes fn to completion signals. Payloads that are not an
// integer id are logged and dropped.
func (e *NatsEngine) OnFinished(fn func(id int64)) (func(), error) {
	sub, err := e.natsConnection.Subscribe(e.doneSubject, func(msg *nats.Msg) {
		id, parseErr := strconv.ParseInt(strings.TrimSpace(string(msg.Data)), 10, 64)
		if parseErr != nil {
			e.log.Warn("Dropping malformed completion signal %q: %v", string(msg.Data), parseErr)

			return
		}

		fn(id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s: %w", e.doneSubject, err)
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			unsubErr := sub.Unsubscribe()
			if unsubErr != nil {
				e.log.Warn("Failed to unsubscribe from %s: %v", e.doneSubject, unsubErr)
			}
		})
	}, nil
}

// ParseReply decodes an engine reply into the assigned id.
func ParseReply(data []byte) (int64, error) {
	var reply Reply

	err := json.Unmarshal(data, &reply)
	if err != nil {
		return 0, fmt.Errorf("%w: undecodable reply: %w", core.ErrContractViolation, err)
	}

	if reply.Error != "" {
		return 0, fmt.Errorf("%w: %s", core.ErrDispatch, reply.Error)
	}

	return ParseID(reply.ID)
}

// ParseID accepts only a JSON integer.
func ParseID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing id", core.ErrContractViolation)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any

	err := decoder.Decode(&value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrContractViolation, err)
	}

	number, ok := value.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected response type %T", core.ErrContractViolation, value)
	}

	id, err := number.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: id %s is not an integer", core.ErrContractViolation, number)
	}

	return id, nil
}
