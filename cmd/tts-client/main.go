// main package for the tts-client operator console
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/config"
	"github.com/book-expert/stream-tts/internal/settings"
	"github.com/book-expert/stream-tts/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagNATSDesc    = "NATS server URL (overrides [nats] url)"
	flagReqSubjDesc = "Request subject (overrides [nats] request_subject)"
	flagHistSubDesc = "History subject (overrides [nats] history_subject)"
	flagBucketDesc  = "Settings bucket (overrides [nats] settings_bucket)"
	flagTextDesc    = "Text to convert to speech"
	flagUserDesc    = "Username recorded with the request"
	flagSourceDesc  = "Request source (manual, bits, redeem, subscription)"
	flagLimitDesc   = "Character limit for the spoken text (0 uses the service default)"
	flagRequeueDesc = "Replay the history item with this id"
	flagHistoryDesc = "Print the playback history and exit"
	flagSetDesc     = "Store a setting as key=json, for example volume=80"
	flagTimeoutDesc = "Request timeout"
)

// Flag names.
const (
	flagNATS    = "nats"
	flagReqSubj = "request-subject"
	flagHistSub = "history-subject"
	flagBucket  = "bucket"
	flagText    = "text"
	flagUser    = "user"
	flagSource  = "source"
	flagLimit   = "limit"
	flagRequeue = "requeue"
	flagHistory = "history"
	flagSetting = "set"
	flagTimeout = "timeout"
)

// Error and log messages.
const (
	errExactlyOneMode     = "exactly one of --text, --requeue, --history or --set must be provided"
	errSetFormat          = "--set expects key=json"
	errFmtUnknownKey      = "unknown setting %q, expected one of %s"
	errFmtInvalidJSON     = "value for %q is not valid JSON: %w"
	errFmtServiceRejected = "service rejected the request: %s"
	logFmtPlaying         = "Playing as id %d\n"
	logFmtStored          = "Stored %s = %s\n"
	logFileName           = "tts-client.log"
	logFmtConfigFallback  = "No service configuration loaded, using defaults: %v"
	defaultRequestTimeout = 10 * time.Second
	defaultUsername       = "operator"
)

var (
	errNoMode   = errors.New(errExactlyOneMode)
	errBadSet   = errors.New(errSetFormat)
	errRejected = errors.New("request rejected")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	natsURL        string
	requestSubject string
	historySubject string
	bucket         string
	text    string
	user    string
	source  string
	limit   int
	requeue int64
	history bool
	set     string
	timeout time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	natsCfg := resolveNATS(loadConfig(log), flags)

	natsConnection, err := nats.Connect(natsCfg.URL, nats.Name("tts-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}
	defer natsConnection.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	switch {
	case flags.history:
		return printHistory(ctx, natsConnection, natsCfg.HistorySubject, out)
	case flags.set != "":
		return storeSetting(natsConnection, natsCfg.SettingsBucket, flags.set, log, out)
	default:
		return sendRequest(ctx, natsConnection, natsCfg.RequestSubject, buildRequest(flags), out)
	}
}

// loadConfig reads the service configuration so the client talks to the same
// subjects and bucket. Without one, the defaults apply.
func loadConfig(log *logger.Logger) config.Config {
	cfg, err := config.Load(log)
	if err != nil {
		log.Warn(logFmtConfigFallback, err)

		var defaults config.Config

		defaults.ApplyDefaults()

		return defaults
	}

	return *cfg
}

// resolveNATS applies the flag overrides on top of the configured values.
func resolveNATS(cfg config.Config, flags appFlags) config.NATSConfig {
	resolved := cfg.NATS

	for _, override := range []struct {
		field *string
		value string
	}{
		{field: &resolved.URL, value: flags.natsURL},
		{field: &resolved.RequestSubject, value: flags.requestSubject},
		{field: &resolved.HistorySubject, value: flags.historySubject},
		{field: &resolved.SettingsBucket, value: flags.bucket},
	} {
		if override.value != "" {
			*override.field = override.value
		}
	}

	return resolved
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("tts-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.natsURL, flagNATS, "", flagNATSDesc)
	flagSet.StringVar(&flags.requestSubject, flagReqSubj, "", flagReqSubjDesc)
	flagSet.StringVar(&flags.historySubject, flagHistSub, "", flagHistSubDesc)
	flagSet.StringVar(&flags.bucket, flagBucket, "", flagBucketDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.user, flagUser, defaultUsername, flagUserDesc)
	flagSet.StringVar(&flags.source, flagSource, "manual", flagSourceDesc)
	flagSet.IntVar(&flags.limit, flagLimit, 0, flagLimitDesc)
	flagSet.Int64Var(&flags.requeue, flagRequeue, 0, flagRequeueDesc)
	flagSet.BoolVar(&flags.history, flagHistory, false, flagHistoryDesc)
	flagSet.StringVar(&flags.set, flagSetting, "", flagSetDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultRequestTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags ensures exactly one action was requested.
func validateFlags(flags appFlags) error {
	modes := 0

	for _, selected := range []bool{flags.text != "", flags.requeue > 0, flags.history, flags.set != ""} {
		if selected {
			modes++
		}
	}

	if modes != 1 {
		return errNoMode
	}

	if flags.set != "" {
		_, _, err := parseSetting(flags.set)

		return err
	}

	return nil
}

// parseSetting splits key=json and checks both halves.
func parseSetting(raw string) (string, []byte, error) {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" || value == "" {
		return "", nil, errBadSet
	}

	if !slices.Contains(settings.Keys(), key) {
		return "", nil, fmt.Errorf(errFmtUnknownKey, key, strings.Join(settings.Keys(), ", "))
	}

	var decoded any

	err := json.Unmarshal([]byte(value), &decoded)
	if err != nil {
		return "", nil, fmt.Errorf(errFmtInvalidJSON, key, err)
	}

	return key, []byte(value), nil
}

func buildRequest(flags appFlags) worker.TTSRequestEvent {
	event := worker.TTSRequestEvent{
		Header:    newHeader(),
		Text:      flags.text,
		Username:  flags.user,
		Source:    flags.source,
		CharLimit: flags.limit,
		RequeueID: nil,
	}

	if flags.requeue > 0 {
		id := flags.requeue
		event.RequeueID = &id
	}

	return event
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func sendRequest(
	ctx context.Context,
	natsConnection *nats.Conn,
	subject string,
	event worker.TTSRequestEvent,
	out io.Writer,
) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	var reply worker.TTSRequestReply

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	if reply.Error != "" {
		return fmt.Errorf("%w: "+errFmtServiceRejected, errRejected, reply.Error)
	}

	_, err = fmt.Fprintf(out, logFmtPlaying, reply.ID)

	return err
}

func printHistory(ctx context.Context, natsConnection *nats.Conn, subject string, out io.Writer) error {
	payload, err := json.Marshal(worker.HistoryQueryEvent{Header: newHeader()})
	if err != nil {
		return fmt.Errorf("failed to marshal history query: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("history query on %s failed: %w", subject, err)
	}

	var reply worker.HistoryReply

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	if reply.Error != "" {
		return fmt.Errorf("%w: "+errFmtServiceRejected, errRejected, reply.Error)
	}

	for _, item := range reply.Items {
		_, err = fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\t%s\n",
			item.ID, item.CreatedAt.Format(time.RFC3339), item.State, item.Source, item.Username, item.Text)
		if err != nil {
			return err
		}
	}

	return nil
}

func storeSetting(natsConnection *nats.Conn, bucket, raw string, log *logger.Logger, out io.Writer) error {
	key, value, err := parseSetting(raw)
	if err != nil {
		return err
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	source, err := settings.NewKVSource(jetstreamContext, bucket, log)
	if err != nil {
		return fmt.Errorf("failed to open settings bucket: %w", err)
	}

	err = source.Put(key, value)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, logFmtStored, key, value)

	return err
}
