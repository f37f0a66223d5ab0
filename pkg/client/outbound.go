package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/ingest"
)

// Ingestor is the upload capability the outbound sync drains the queue
// into. LocalIngestor binds it to an in-process ingestion service;
// remote clients bind it to the ingestion API.
type Ingestor interface {
	IngestBatch(ctx context.Context, events [][]byte) ([]ingest.Result, error)
}

// LocalIngestor adapts an in-process ingestion service.
type LocalIngestor struct {
	Service *ingest.Service
}

func (l *LocalIngestor) IngestBatch(ctx context.Context, events [][]byte) ([]ingest.Result, error) {
	return l.Service.IngestBatch(ctx, events), nil
}

// OutboundResult aggregates one outbound sync run.
type OutboundResult struct {
	Uploaded   int      `json:"uploaded"`
	Idempotent int      `json:"idempotent"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// OutboundSync drains the queue into the ingestor in windows. Entries
// leave the queue only on confirmed success; failures stay queued with
// a bumped attempt counter until max_retries, after which they remain
// for operator inspection but are no longer counted against new runs.
type OutboundSync struct {
	queue    Queue
	ingestor Ingestor
	cfg      config.OutboundConfig
	logger   *slog.Logger
}

// NewOutboundSync creates an outbound sync over a queue and ingestor.
func NewOutboundSync(queue Queue, ingestor Ingestor, cfg config.OutboundConfig, logger *slog.Logger) *OutboundSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboundSync{queue: queue, ingestor: ingestor, cfg: cfg, logger: logger}
}

// Sync uploads every pending entry once. There is no in-line sleep
// between windows; retry pacing is the engine's concern.
func (o *OutboundSync) Sync(ctx context.Context) (OutboundResult, error) {
	var result OutboundResult

	pending, err := o.queue.GetPending(ctx)
	if err != nil {
		return result, fmt.Errorf("read pending queue: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	for start := 0; start < len(pending); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(pending))
		window := pending[start:end]

		events := make([][]byte, len(window))
		for i, entry := range window {
			events[i] = entry.Event
		}

		results, err := o.ingestor.IngestBatch(ctx, events)
		if err != nil {
			// Transport failure: the whole window counts as failed and
			// stays queued for the next run.
			o.logger.Warn("Outbound window failed", "size", len(window), "error", err)
			for _, entry := range window {
				o.recordFailure(ctx, &result, entry, err.Error())
			}
			continue
		}

		for i, res := range results {
			entry := window[i]
			switch {
			case res.Success && res.Idempotent:
				if err := o.settle(ctx, entry.EventID); err != nil {
					return result, err
				}
				result.Idempotent++
			case res.Success:
				if err := o.settle(ctx, entry.EventID); err != nil {
					return result, err
				}
				result.Uploaded++
			default:
				o.recordFailure(ctx, &result, entry, res.Error)
			}
		}
	}
	return result, nil
}

// settle confirms an upload: acknowledge, then remove. Both must
// succeed before the entry is considered gone.
func (o *OutboundSync) settle(ctx context.Context, eventID string) error {
	if err := o.queue.Acknowledge(ctx, eventID); err != nil {
		return fmt.Errorf("acknowledge %s: %w", eventID, err)
	}
	if err := o.queue.Remove(ctx, eventID); err != nil {
		return fmt.Errorf("remove %s: %w", eventID, err)
	}
	return nil
}

func (o *OutboundSync) recordFailure(ctx context.Context, result *OutboundResult, entry QueueEntry, reason string) {
	result.Failed++
	if entry.Attempts >= o.cfg.MaxRetries {
		// No automatic drop: the entry stays visible in status until an
		// operator intervenes.
		result.Errors = append(result.Errors, fmt.Sprintf("%s: max retries exceeded", entry.EventID))
		return
	}
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", entry.EventID, reason))
	if err := o.queue.IncrementAttempt(ctx, entry.EventID); err != nil {
		o.logger.Warn("Failed to bump attempt counter", "event_id", entry.EventID, "error", err)
	}
}
