package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KVSource implements core.SettingsSource on a NATS JetStream key-value bucket.
// Each setting is one key holding a JSON value.
type KVSource struct {
	bucket string
	kv     nats.KeyValue
	log    *logger.Logger
}

// NewKVSource creates the settings bucket, or binds to it when it already exists.
func NewKVSource(jetstreamContext nats.JetStreamContext, bucketName string, log *logger.Logger) (*KVSource, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Operator settings for the stream-tts service.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create settings bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing settings bucket '%s': %w", bucketName, err)
		}
	}

	return &KVSource{
		bucket: bucketName,
		kv:     kv,
		log:    log,
	}, nil
}

// Watch delivers the current value of key, if any, and every later put.
// Deletes and purges are skipped: the holder keeps the last known value.
func (s *KVSource) Watch(key string, fn func(value []byte)) (func(), error) {
	watcher, err := s.kv.Watch(key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key '%s' in bucket '%s': %w", key, s.bucket, err)
	}

	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		for {
			select {
			case <-done:
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}

				// A nil entry marks the end of the initial values.
				if entry == nil {
					continue
				}

				if entry.Operation() != nats.KeyValuePut {
					continue
				}

				fn(entry.Value())
			}
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			close(done)

			stopErr := watcher.Stop()
			if stopErr != nil {
				s.log.Warn("Failed to stop watcher for key '%s': %v", key, stopErr)
			}

			<-exited
		})
	}

	return stop, nil
}

// Put stores a raw JSON value under key.
func (s *KVSource) Put(key string, value []byte) error {
	_, err := s.kv.Put(key, value)
	if err != nil {
		return fmt.Errorf("failed to put key '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
