// Package main provides the append-path ingestion service.
//
// It consumes a Kafka topic of node change-events and batch-appends them
// into a destination's log table, generating log_id via the table's
// auto-increment primary key. It does not validate nested-set semantics or
// apply anything to the live table - that is the synchronizer's job.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/nestedsync/nestedsync/internal/config"
	"github.com/nestedsync/nestedsync/internal/nestedset"
	"github.com/nestedsync/nestedsync/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"

	defaultBatchSize     = 100
	defaultBatchInterval = 2 * time.Second
)

// changeEvent is the wire shape of a single node change-event.
type changeEvent struct {
	NodeID  int64          `json:"node_id"`
	Op      int            `json:"op"`
	Left    int32          `json:"left"`
	Right   int32          `json:"right"`
	Payload map[string]any `json:"payload"`
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	runID := uuid.New().String()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})).With(slog.String("run_id", runID))

	logger.Info("starting append-path ingestion service", slog.String("service", name), slog.String("version", version))

	destName := config.GetEnvStr("NESTEDSYNC_INGEST_DESTINATION", "")
	if destName == "" {
		logger.Error("NESTEDSYNC_INGEST_DESTINATION is required")
		os.Exit(1)
	}

	fleet, err := nestedset.LoadManifestFromEnv()
	if err != nil {
		logger.Error("failed to load destination manifest", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("loaded destination manifest", slog.String("load_id", fleet.LoadID()))

	dest, ok := fleet.Get(destName)
	if !ok {
		logger.Error("unknown destination", slog.String("destination", destName), slog.Any("known", fleet.Names()))
		os.Exit(1)
	}

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("failed to close database connection", slog.String("error", cerr.Error()))
		}
	}()

	brokers := config.ParseCommaSeparatedList(config.GetEnvStr("NESTEDSYNC_KAFKA_BROKERS", "localhost:9092"))
	topic := config.GetEnvStr("NESTEDSYNC_KAFKA_TOPIC", destName+".changes")
	groupID := config.GetEnvStr("NESTEDSYNC_KAFKA_GROUP_ID", "nestedsync-ingester-"+destName)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			logger.Error("failed to close kafka reader", slog.String("error", cerr.Error()))
		}
	}()

	logger.Info("consuming change-events",
		slog.String("destination", destName),
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
		slog.String("group_id", groupID),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	batchSize := config.GetEnvInt("NESTEDSYNC_INGEST_BATCH_SIZE", defaultBatchSize)
	batchInterval := config.GetEnvDuration("NESTEDSYNC_INGEST_BATCH_INTERVAL", defaultBatchInterval)

	if err := run(ctx, logger, conn, reader, dest, batchSize, batchInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestion loop failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("append-path ingestion service stopped")
}

// run consumes messages from reader, accumulating a batch of LogEntry until
// it reaches batchSize or batchInterval elapses, then appends the batch to
// the destination's log table in one statement. It returns when ctx is
// cancelled or the reader fails.
func run(
	ctx context.Context,
	logger *slog.Logger,
	conn *storage.Connection,
	reader *kafka.Reader,
	dest nestedset.Destination,
	batchSize int,
	batchInterval time.Duration,
) error {
	var batch []nestedset.LogEntry

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := appendBatch(ctx, conn, dest, batch); err != nil {
			logger.Error("failed to append batch to log table",
				slog.String("destination", dest.Name),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("appended batch to log table",
				slog.String("destination", dest.Name),
				slog.Int("batch_size", len(batch)),
			)
		}

		batch = nil
	}

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	messages := make(chan kafka.Message)
	errs := make(chan error, 1)

	go func() {
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				errs <- err
				return
			}

			select {
			case messages <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case err := <-errs:
			flush()
			return err
		case m := <-messages:
			var evt changeEvent
			if err := json.Unmarshal(m.Value, &evt); err != nil {
				logger.Warn("discarding malformed change-event", slog.String("error", err.Error()))
				continue
			}

			op, ok := dest.Ops.Decode(evt.Op)
			if !ok {
				logger.Warn("discarding change-event with unrecognized operation code",
					slog.String("destination", dest.Name),
					slog.Int("op", evt.Op),
				)
				continue
			}

			batch = append(batch, nestedset.LogEntry{
				Op:      op,
				NodeID:  evt.NodeID,
				Left:    evt.Left,
				Right:   evt.Right,
				Payload: evt.Payload,
			})

			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func appendBatch(ctx context.Context, conn *storage.Connection, dest nestedset.Destination, batch []nestedset.LogEntry) error {
	query, args := nestedset.BuildAppendSQL(dest, batch)

	_, err := conn.ExecContext(ctx, query, args...)

	return err
}
