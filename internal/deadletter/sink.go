// Package deadletter reports change records the dispatcher gave up on.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/email-confirmation-service/internal/domain"
)

// Sink receives poison entries.
type Sink interface {
	Report(ctx context.Context, entry domain.PoisonEntry) error
}

type publisher interface {
	Publish(ctx context.Context, subject, message string) error
}

type archiver interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// TopicSink publishes each entry as a JSON alert.
type TopicSink struct {
	pub publisher
}

func NewTopicSink(pub publisher) *TopicSink { return &TopicSink{pub: pub} }

func (s *TopicSink) Report(ctx context.Context, entry domain.PoisonEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal poison entry: %w", err)
	}
	return s.pub.Publish(ctx, "poison change record "+entry.Record.Key, string(body))
}

// ArchiveSink stores each entry as an object keyed by record key and sequence.
type ArchiveSink struct {
	store archiver
}

func NewArchiveSink(store archiver) *ArchiveSink { return &ArchiveSink{store: store} }

func (s *ArchiveSink) Report(ctx context.Context, entry domain.PoisonEntry) error {
	_, err := s.store.PutJSON(ctx, ObjectKey(entry), entry)
	return err
}

// ObjectKey is the archive location of entry.
func ObjectKey(entry domain.PoisonEntry) string {
	key := entry.Record.Key
	if key == "" {
		key = "_unknown"
	}
	seq := entry.Record.Sequence
	if seq == "" {
		seq = entry.IsolatedAt.UTC().Format("20060102T150405Z")
	}
	return path.Join("deadletter", key, seq+".json")
}

// LogSink writes each entry to the log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{log: logger} }

func (s *LogSink) Report(_ context.Context, entry domain.PoisonEntry) error {
	s.log.Error("dead-lettered change record",
		"key", entry.Record.Key,
		"sequence", entry.Record.Sequence,
		"attempts", entry.Attempts,
		"err", entry.Error,
	)
	return nil
}

// Multi fans a report out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Report(ctx context.Context, entry domain.PoisonEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
