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

// Job types accepted on the trigger subscription.
const (
	JobCoverageSweep = "coverage_sweep"
	JobHealthCheck   = "health_check"
)

var (
	// ErrUnknownJob is returned for messages with an unrecognised job type.
	ErrUnknownJob = errors.New("worker: unknown job type")

	// ErrMalformedMessage is returned for payloads that are not valid JSON.
	ErrMalformedMessage = errors.New("worker: malformed message")
)

// PubSubHandler triggers jobs from Pub/Sub messages.
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
	Job              *SweepJob
	Logger           zerolog.Logger
}

// TriggerMessage is the payload of a trigger message.
type TriggerMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// A sweep holds a message for its whole duration.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.Job, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if h.dispatcher.Handle(logger.WithContext(ctx), msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Dispatcher runs the job named by a trigger payload.
type Dispatcher struct {
	job    *SweepJob
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher for job.
func NewDispatcher(job *SweepJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle runs the job in data and reports whether the message should be
// acknowledged. Malformed and unknown messages are acknowledged so they are
// not redelivered; failed jobs are not.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) bool {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &d.logger
	}

	startTime := time.Now()
	jobType, err := d.Run(ctx, data)

	switch {
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrUnknownJob):
		logger.Warn().Err(err).Str("job_type", jobType).Msg("dropping message")
		return true
	case err != nil:
		logger.Error().Err(err).Str("job_type", jobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", jobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}

// Run decodes data and runs the named job, returning the job type.
func (d *Dispatcher) Run(ctx context.Context, data []byte) (string, error) {
	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobCoverageSweep:
		return msg.JobType, d.coverageSweep(ctx)
	case JobHealthCheck:
		return msg.JobType, d.job.HealthCheck(ctx)
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) coverageSweep(ctx context.Context) error {
	result := d.job.Run(ctx)

	// Synthetic answers are still answers; only hard failures count against the run.
	if result.Failed > result.Live+result.Synthetic {
		return fmt.Errorf("too many sweep failures: %d/%d", result.Failed, result.TotalLocations)
	}
	return nil
}
