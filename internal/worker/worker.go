// Package worker provides the NATS intake for TTS requests and history queries.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/audit"
	"github.com/book-expert/stream-tts/internal/orchestrator"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

const defaultCharLimit = 500

var (
	// ErrTextEmpty indicates that a new request carried no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrCharLimitNegative indicates that the character limit is negative.
	ErrCharLimitNegative = errors.New("char_limit must be non-negative")
	// ErrRequeueSource indicates that a new request claimed the requeue source.
	ErrRequeueSource = errors.New("requeue source requires requeue_id")
	// ErrAlreadySubscribed is returned by a second call to Start.
	ErrAlreadySubscribed = errors.New("worker already subscribed")
)

// Dispatcher is the part of the orchestrator the worker drives.
type Dispatcher interface {
	PlayTTS(ctx context.Context, req orchestrator.Request) (int64, error)
	RequeueByID(ctx context.Context, id int64) (int64, error)
	History(ctx context.Context) ([]audit.Item, error)
}

// TTSRequestEvent asks for text to be spoken, or for a history item to be
// replayed when RequeueID is set.
type TTSRequestEvent struct {
	Header    events.EventHeader `json:"header"`
	Text      string             `json:"text"`
	Username  string             `json:"username"`
	Source    string             `json:"source"`
	CharLimit int                `json:"char_limit"`
	RequeueID *int64             `json:"requeue_id,omitempty"`
}

// TTSRequestReply answers a TTSRequestEvent. ID is the playback id on success;
// Error is set on failure.
type TTSRequestReply struct {
	Header events.EventHeader `json:"header"`
	ID     int64              `json:"id"`
	Error  string             `json:"error,omitempty"`
}

// HistoryQueryEvent asks for the audit history.
type HistoryQueryEvent struct {
	Header events.EventHeader `json:"header"`
}

// HistoryReply answers a HistoryQueryEvent with items newest first.
type HistoryReply struct {
	Header events.EventHeader `json:"header"`
	Items  []audit.Item       `json:"items"`
	Error  string             `json:"error,omitempty"`
}

// NatsWorker listens for TTS requests and history queries on NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	requestSubject string
	historySubject string
	dispatcher     Dispatcher
	log            *logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	requestSubject string,
	historySubject string,
	dispatcher Dispatcher,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		requestSubject: requestSubject,
		historySubject: historySubject,
		dispatcher:     dispatcher,
		log:            log,
		mu:             sync.Mutex{},
		subs:           nil,
	}
}

// Start subscribes to the request and history subjects.
func (w *NatsWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subs != nil {
		return ErrAlreadySubscribed
	}

	requestSub, err := w.natsConnection.Subscribe(w.requestSubject, w.handleRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.requestSubject, err)
	}

	historySub, err := w.natsConnection.Subscribe(w.historySubject, w.handleHistory)
	if err != nil {
		_ = requestSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.historySubject, err)
	}

	w.subs = []*nats.Subscription{requestSub, historySub}

	return nil
}

// Run subscribes when Start has not been called yet, then blocks until ctx is
// cancelled and drains the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Start()
	if err != nil && !errors.Is(err, ErrAlreadySubscribed) {
		return err
	}

	<-ctx.Done()

	w.mu.Lock()
	subs := w.subs
	w.mu.Unlock()

	for _, sub := range subs {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.respond(msg, TTSRequestReply{Header: events.EventHeader{}, ID: 0, Error: err.Error()})

		return
	}

	reply := TTSRequestReply{Header: event.Header, ID: 0, Error: ""}

	id, err := w.dispatch(ctx, event)
	if err != nil {
		w.log.Warn("TTS request for workflow %s was not played: %v", event.Header.WorkflowID, err)
		reply.Error = err.Error()
	} else {
		w.log.Info("TTS request for workflow %s is playing as %d", event.Header.WorkflowID, id)
		reply.ID = id
	}

	w.respond(msg, reply)
}

func (w *NatsWorker) dispatch(ctx context.Context, event *TTSRequestEvent) (int64, error) {
	if event.RequeueID != nil {
		return w.dispatcher.RequeueByID(ctx, *event.RequeueID)
	}

	source, err := audit.ParseSource(event.Source)
	if err != nil {
		return 0, fmt.Errorf("invalid request: %w", err)
	}

	return w.dispatcher.PlayTTS(ctx, orchestrator.Request{
		Text:      event.Text,
		Username:  event.Username,
		Source:    source,
		CharLimit: event.CharLimit,
		AuditID:   nil,
	})
}

func (w *NatsWorker) handleHistory(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var query HistoryQueryEvent

	if len(msg.Data) > 0 {
		err := json.Unmarshal(msg.Data, &query)
		if err != nil {
			w.log.Error("Failed to unmarshal history query: %v", err)
			w.respond(msg, HistoryReply{Header: events.EventHeader{}, Items: nil, Error: err.Error()})

			return
		}
	}

	reply := HistoryReply{Header: query.Header, Items: nil, Error: ""}

	items, err := w.dispatcher.History(ctx)
	if err != nil {
		w.log.Error("Failed to load history: %v", err)
		reply.Error = err.Error()
	} else {
		reply.Items = items
	}

	w.respond(msg, reply)
}

// respond marshals and sends a reply when the sender asked for one.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event: %v", err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*TTSRequestEvent, error) {
	var event TTSRequestEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	err = validateRequest(&event)
	if err != nil {
		return nil, err
	}

	return &event, nil
}

// validateRequest checks a request and fills in the default character limit.
func validateRequest(event *TTSRequestEvent) error {
	if event.CharLimit < 0 {
		return fmt.Errorf("%w: got %d", ErrCharLimitNegative, event.CharLimit)
	}

	if event.RequeueID != nil {
		return nil
	}

	if event.Text == "" {
		return ErrTextEmpty
	}

	if event.Source == string(audit.SourceRequeue) {
		return ErrRequeueSource
	}

	if event.Source == "" {
		event.Source = string(audit.SourceManual)
	}

	if event.CharLimit == 0 {
		event.CharLimit = defaultCharLimit
	}

	return nil
}
