// Package queue consumes translation jobs from RabbitMQ and publishes the
// resulting envelopes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

const (
	exchangeType   = "topic"
	publishTimeout = 5 * time.Second
)

// Translator runs a batch in the given mode
type Translator interface {
	Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope
}

// Config contains broker and topology settings
type Config struct {
	URL              string
	Exchange         string
	Queue            string
	RoutingKey       string
	ResultRoutingKey string
	Prefetch         int
	JobTimeout       time.Duration
}

// Result is published once per consumed job
type Result struct {
	JobID    string             `json:"job_id"`
	Mode     langpair.Mode      `json:"mode,omitempty"`
	Envelope *response.Envelope `json:"envelope"`
}

// publisher is the part of *amqp.Channel used to send results
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Worker consumes translate.Job messages
type Worker struct {
	config   Config
	pipeline Translator
	logger   *zap.Logger
}

// NewWorker creates a worker. Prefetch defaults to 1.
func NewWorker(config Config, pipeline Translator, logger *zap.Logger) *Worker {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	return &Worker{config: config, pipeline: pipeline, logger: logger}
}

// Run declares the topology and consumes until ctx is done or the broker
// closes the delivery channel.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := amqp.Dial(w.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		w.config.Exchange,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		w.config.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, w.config.RoutingKey, w.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(w.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	w.logger.Info("Started translation consumer",
		zap.String("queue", q.Name),
		zap.String("routing_key", w.config.RoutingKey),
		zap.Int("prefetch", w.config.Prefetch))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping translation consumer")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}
			w.handle(ctx, ch, msg)
		}
	}
}

// handle processes one delivery. It is acked once its result is published
// and dropped without requeue when publishing fails. A job interrupted by
// shutdown is requeued instead of answered.
func (w *Worker) handle(ctx context.Context, pub publisher, msg amqp.Delivery) {
	start := time.Now()

	jobCtx := ctx
	if w.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.config.JobTimeout)
		defer cancel()
	}

	result := w.Process(jobCtx, msg.Body)
	if ctx.Err() != nil {
		w.logger.Info("Worker stopping, requeueing job",
			zap.String("job_id", result.JobID),
			zap.String("message_id", msg.MessageId))
		_ = msg.Nack(false, true)
		return
	}
	if result.JobID == "" {
		result.JobID = msg.MessageId
	}

	if err := w.publish(ctx, pub, msg, result); err != nil {
		w.logger.Error("Failed to publish translation result",
			zap.String("job_id", result.JobID),
			zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)

	w.logger.Info("Translation job completed",
		zap.String("job_id", result.JobID),
		zap.String("status_kind", string(result.Envelope.Status.Kind)),
		zap.Duration("duration", time.Since(start)))
}

// Process decodes a job body and runs it. Malformed jobs yield an
// INVALID_API_REQUEST envelope.
func (w *Worker) Process(ctx context.Context, body []byte) *Result {
	job, items, err := translate.DecodeJob(body)
	if err != nil {
		return &Result{
			JobID:    job.ID,
			Envelope: response.New(response.InvalidAPIRequest, []interface{}{}).WithWhy(err.Error()),
		}
	}
	return &Result{
		JobID:    job.ID,
		Mode:     job.Mode,
		Envelope: w.pipeline.Run(ctx, job.Mode, items),
	}
}

// publish replies to ReplyTo through the default exchange when the job
// names one, otherwise it routes the result on the job exchange.
func (w *Worker) publish(ctx context.Context, pub publisher, msg amqp.Delivery, result *Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	exchange, key := w.config.Exchange, w.config.ResultRoutingKey
	if msg.ReplyTo != "" {
		exchange, key = "", msg.ReplyTo
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return pub.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.CorrelationId,
		MessageId:     result.JobID,
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
	})
}
