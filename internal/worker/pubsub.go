package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// JobMessage is a job trigger published to the worker subscription.
type JobMessage struct {
	JobType string `json:"job_type"`

	// DryRun applies to assign_sensors.
	DryRun bool `json:"dry_run,omitempty"`

	// Years, SiteCode and Overwrite apply to fetch_annual_stats.
	Years     []int  `json:"years,omitempty"`
	SiteCode  string `json:"site_code,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`

	// Year applies to compute_annual_stats (default: previous year).
	Year int `json:"year,omitempty"`
}

// Dispatcher runs job messages against Jobs.
type Dispatcher struct {
	jobs   *Jobs
	logger zerolog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(jobs *Jobs, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, logger: logger}
}

// ErrUnknownJob is returned for unrecognised job types.
var ErrUnknownJob = errors.New("unknown job type")

// Dispatch runs the job named by msg.
func (d *Dispatcher) Dispatch(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobSyncSensors:
		_, err := d.jobs.SyncSensors(ctx)
		return err

	case JobFetchReadings:
		result, err := d.jobs.FetchReadings(ctx)
		if err != nil {
			return err
		}
		// Consider it successful if at least half of the sensors succeeded.
		if result.Failed > result.Successful {
			return fmt.Errorf("too many fetch failures: %d/%d", result.Failed, result.Sensors)
		}
		return nil

	case JobFetchAnnualStats:
		_, err := d.jobs.FetchAnnualStats(ctx, AnnualStatsOptions{
			Years:     msg.Years,
			SiteCode:  msg.SiteCode,
			Overwrite: msg.Overwrite,
		})
		return err

	case JobComputeAnnualStats:
		year := msg.Year
		if year == 0 {
			year = d.jobs.now().Year() - 1
		}
		_, err := d.jobs.ComputeAnnualStats(ctx, year)
		return err

	case JobAssignSensors:
		_, err := d.jobs.AssignSensors(ctx, msg.DryRun)
		return err

	case JobHealthCheck:
		return d.jobs.HealthCheck(ctx)
	}

	return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Jobs are long-running and write to the same store; keep them serial.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.handle(ctx, msg.ID, msg.PublishTime, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// handle runs one message and reports whether it should be acked.
func (h *PubSubHandler) handle(ctx context.Context, id string, published time.Time, data []byte) bool {
	logger := h.logger.With().
		Str("message_id", id).
		Str("publish_time", published.Format(time.RFC3339)).
		Logger()
	return h.dispatcher.handleMessage(ctx, logger, data)
}

// HandleMessage decodes and runs a JSON job message. It reports whether
// the message should be acked: malformed messages and failed jobs are
// retried, unknown job types are dropped.
func (d *Dispatcher) HandleMessage(ctx context.Context, data []byte) bool {
	return d.handleMessage(ctx, d.logger, data)
}

func (d *Dispatcher) handleMessage(ctx context.Context, logger zerolog.Logger, data []byte) bool {
	startTime := time.Now()
	logger.Debug().Msg("received job message")

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	err := d.Dispatch(ctx, msg)
	switch {
	case errors.Is(err, ErrUnknownJob):
		// Ack unknown messages to prevent redelivery.
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true
	case err != nil:
		logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}
