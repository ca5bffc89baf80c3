// Package orchestrator turns text requests into playback invocations and keeps
// the audit history in step with what the playback engine accepted and finished.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/audit"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/book-expert/stream-tts/internal/filter"
	"github.com/book-expert/stream-tts/internal/metrics"
	"github.com/book-expert/stream-tts/internal/provider"
	"github.com/book-expert/stream-tts/internal/settings"
)

// RequeueCharLimit is the character limit applied when a history item is replayed.
const RequeueCharLimit = 1000

// maxEarlyCompletions bounds the completion signals remembered for ids whose
// record has not been created yet.
const maxEarlyCompletions = 64

// earlyCompletionTTL is how long a remembered completion may wait for its record.
const earlyCompletionTTL = 30 * time.Second

const historyTimeout = 5 * time.Second

// Operator-facing messages.
const (
	msgFmtConfiguration = "Oops! Your %s settings are incomplete: %v"
	msgFmtProvider      = "Oops! We had issues communicating with %s!"
	msgDispatch         = "Oops! We encountered an error while playing that."
	msgContract         = "Oops! The player answered with something we did not understand."
	msgHistory          = "Playback started, but we could not save it to the history."
)

var (
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("orchestrator is closed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
	// ErrItemNotFound indicates that a re-queue referenced an unknown history item.
	ErrItemNotFound = errors.New("history item not found")
)

// Request is the in-flight context of one TTS request.
type Request struct {
	Text      string
	Username  string
	Source    audit.Source
	CharLimit int
	// AuditID is set only when an existing history item is replayed.
	AuditID *int64
}

// Dependencies are the collaborators an Orchestrator is built from.
// Metrics may be nil.
type Dependencies struct {
	Settings core.SettingsSource
	Registry *provider.Registry
	Engine   core.PlaybackEngine
	Store    core.HistoryStore
	Notifier core.Notifier
	Metrics  *metrics.Collector
	Log      *logger.Logger
}

// Orchestrator is safe for concurrent use. History writes are serialized
// through historyMu so Create and Finish never interleave.
type Orchestrator struct {
	holder   *settings.Holder
	registry *provider.Registry
	engine   core.PlaybackEngine
	store    core.HistoryStore
	notifier core.Notifier
	metrics  *metrics.Collector
	log      *logger.Logger
	now      func() time.Time

	lifecycleMu  sync.Mutex
	started      bool
	closed       bool
	stopFinished func()

	historyMu sync.Mutex
	// pendingCreates counts dispatches that will create a record once the
	// engine replies. Completions are only remembered while it is positive.
	pendingCreates  int
	earlyCompletion map[int64]time.Time
	earlyOrder      []int64
}

// New creates an orchestrator. Call Start before issuing requests.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		holder:          settings.NewHolder(deps.Settings, deps.Log),
		registry:        deps.Registry,
		engine:          deps.Engine,
		store:           deps.Store,
		notifier:        deps.Notifier,
		metrics:         deps.Metrics,
		log:             deps.Log,
		now:             time.Now,
		lifecycleMu:     sync.Mutex{},
		started:         false,
		closed:          false,
		stopFinished:    nil,
		historyMu:       sync.Mutex{},
		pendingCreates:  0,
		earlyCompletion: make(map[int64]time.Time),
		earlyOrder:      nil,
	}
}

// Start subscribes to every setting stream and to the completion signal.
func (o *Orchestrator) Start() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.closed {
		return ErrClosed
	}

	if o.started {
		return ErrAlreadyStarted
	}

	err := o.holder.Start()
	if err != nil {
		return fmt.Errorf("failed to subscribe to settings: %w", err)
	}

	stop, err := o.engine.OnFinished(o.handleFinished)
	if err != nil {
		o.holder.Close()

		return fmt.Errorf("failed to subscribe to playback completions: %w", err)
	}

	o.stopFinished = stop
	o.started = true

	return nil
}

// Close releases every subscription. Requests made afterwards fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.closed {
		return
	}

	o.closed = true

	if o.stopFinished != nil {
		o.stopFinished()
		o.stopFinished = nil
	}

	o.holder.Close()
}

// Settings returns the latest known settings.
func (o *Orchestrator) Settings() settings.Snapshot {
	return o.holder.Snapshot()
}

// History returns every audit item, newest first.
func (o *Orchestrator) History(ctx context.Context) ([]audit.Item, error) {
	items, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return items, nil
}

// PlayTTS runs one request through the filter, the active provider and the
// playback engine, and records it when the engine accepts it.
//
// Banned content ends with core.ErrContentRejected and is not reported to the
// operator. Every other failure is reported through the notifier. No failed
// request ever reaches the history.
func (o *Orchestrator) PlayTTS(ctx context.Context, req Request) (int64, error) {
	if o.isClosed() {
		return 0, ErrClosed
	}

	snapshot := o.holder.Snapshot()

	if filter.ShouldReject(req.Text, snapshot.BannedWords) {
		o.metrics.RecordRequest(string(req.Source), snapshot.Provider, metrics.OutcomeRejected)

		return 0, core.ErrContentRejected
	}

	built, err := o.build(ctx, req, snapshot)
	if err != nil {
		return 0, o.fail(req, snapshot.Provider, err)
	}

	creates := audit.ShouldCreate(req.AuditID)
	if creates {
		o.beginCreate()
	}

	id, err := o.engine.Invoke(ctx, core.PlayRequest{
		ID:       req.AuditID,
		Device:   snapshot.Device,
		Volume:   snapshot.Volume,
		Provider: snapshot.Provider,
		URL:      built.URL,
		Params:   built.Params,
	})
	if err != nil {
		if creates {
			o.abandonCreate()
		}

		return 0, o.fail(req, snapshot.Provider, err)
	}

	o.metrics.RecordRequest(string(req.Source), snapshot.Provider, metrics.OutcomeDispatched)

	if creates {
		o.createRecord(audit.NewPlaying(id, req.Text, req.Username, req.Source, o.now()))
	}

	return id, nil
}

// Requeue replays an existing history item. The original record is left as it is
// and no new record is created.
func (o *Orchestrator) Requeue(ctx context.Context, item audit.Item) (int64, error) {
	origin := item.ID

	return o.PlayTTS(ctx, Request{
		Text:      item.Text,
		Username:  item.Username,
		Source:    item.Source,
		CharLimit: RequeueCharLimit,
		AuditID:   &origin,
	})
}

// RequeueByID looks the item up in the history and replays it.
func (o *Orchestrator) RequeueByID(ctx context.Context, id int64) (int64, error) {
	item, found, err := o.store.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to load history item %d: %w", id, err)
	}

	if !found {
		return 0, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}

	return o.Requeue(ctx, item)
}

func (o *Orchestrator) build(ctx context.Context, req Request, snapshot settings.Snapshot) (provider.Request, error) {
	builder, err := o.registry.Lookup(snapshot.Provider)
	if err != nil {
		return provider.Request{}, err
	}

	built, err := builder.Build(ctx, provider.Input{
		Text:      req.Text,
		CharLimit: req.CharLimit,
		Settings:  snapshot,
	})
	if err != nil {
		return provider.Request{}, fmt.Errorf("failed to build %s request: %w", builder.Tag(), err)
	}

	return built, nil
}

// fail reports err to the operator and returns it.
func (o *Orchestrator) fail(req Request, providerTag string, err error) error {
	var (
		outcome string
		message string
	)

	switch {
	case errors.Is(err, core.ErrConfiguration):
		outcome = metrics.OutcomeConfiguration
		message = fmt.Sprintf(msgFmtConfiguration, providerTag, err)
	case errors.Is(err, core.ErrProvider):
		outcome = metrics.OutcomeProvider
		message = fmt.Sprintf(msgFmtProvider, providerTag)
	case errors.Is(err, core.ErrContractViolation):
		outcome = metrics.OutcomeContract
		message = msgContract
	default:
		outcome = metrics.OutcomeDispatchError
		message = msgDispatch

		if !errors.Is(err, core.ErrDispatch) {
			err = fmt.Errorf("%w: %w", core.ErrDispatch, err)
		}
	}

	o.log.Error("TTS request from %s (%s) failed: %v", req.Username, req.Source, err)
	o.metrics.RecordRequest(string(req.Source), providerTag, outcome)
	o.notifier.Notify(message, core.SeverityError)

	return err
}

func (o *Orchestrator) createRecord(item audit.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	o.pendingCreates--

	err := o.store.CreateRecord(ctx, item)
	if err != nil {
		o.log.Error("Failed to record audit item %d: %v", item.ID, err)
		o.notifier.Notify(msgHistory, core.SeverityError)

		return
	}

	o.metrics.RecordTransition(string(audit.StatePlaying))

	if !o.takeEarlyCompletion(item.ID) {
		return
	}

	o.finishLocked(ctx, item.ID)
}

// handleFinished applies the Finish transition for a completion signal.
// A signal for an id without a record is remembered only while a Create is
// still in flight, and otherwise dropped.
func (o *Orchestrator) handleFinished(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	if o.finishLocked(ctx, id) {
		return
	}

	_, found, err := o.store.Get(ctx, id)
	if err != nil {
		o.log.Warn("Failed to look up audit item %d: %v", id, err)

		return
	}

	if !found && o.pendingCreates > 0 {
		o.rememberEarlyCompletion(id)
	}
}

func (o *Orchestrator) finishLocked(ctx context.Context, id int64) bool {
	updated, err := o.store.UpdateState(ctx, id, audit.StateFinished)
	if err != nil {
		o.log.Warn("Failed to finish audit item %d: %v", id, err)

		return false
	}

	if updated {
		o.metrics.RecordTransition(string(audit.StateFinished))
	}

	return updated
}

func (o *Orchestrator) beginCreate() {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	o.pendingCreates++
}

func (o *Orchestrator) abandonCreate() {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	o.pendingCreates--
}

func (o *Orchestrator) rememberEarlyCompletion(id int64) {
	now := o.now()
	o.expireEarlyCompletions(now)

	if _, ok := o.earlyCompletion[id]; ok {
		return
	}

	if len(o.earlyOrder) >= maxEarlyCompletions {
		oldest := o.earlyOrder[0]
		o.earlyOrder = o.earlyOrder[1:]
		delete(o.earlyCompletion, oldest)
	}

	o.earlyCompletion[id] = now
	o.earlyOrder = append(o.earlyOrder, id)
}

// takeEarlyCompletion reports whether a live completion was waiting for id.
func (o *Orchestrator) takeEarlyCompletion(id int64) bool {
	o.expireEarlyCompletions(o.now())

	if _, ok := o.earlyCompletion[id]; !ok {
		return false
	}

	delete(o.earlyCompletion, id)

	for i, pending := range o.earlyOrder {
		if pending == id {
			o.earlyOrder = append(o.earlyOrder[:i], o.earlyOrder[i+1:]...)

			break
		}
	}

	return true
}

// expireEarlyCompletions drops entries older than earlyCompletionTTL. The
// order slice is oldest first.
func (o *Orchestrator) expireEarlyCompletions(now time.Time) {
	for len(o.earlyOrder) > 0 {
		oldest := o.earlyOrder[0]
		if now.Sub(o.earlyCompletion[oldest]) <= earlyCompletionTTL {
			return
		}

		o.earlyOrder = o.earlyOrder[1:]
		delete(o.earlyCompletion, oldest)
	}
}

func (o *Orchestrator) isClosed() bool {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	return o.closed
}
