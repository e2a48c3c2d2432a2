package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

type echoPipeline struct {
	mode langpair.Mode
}

func (p *echoPipeline) Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope {
	p.mode = mode
	out := make([]translate.Result, 0, len(items))
	for _, it := range items {
		out = append(out, translate.Result{Src: *it.Src, Tgt: *it.Src})
	}
	return response.OK(out)
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

// fakeAcker records how a delivery was settled
type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	return nil
}

func newTestWorker(pipeline Translator) *Worker {
	return NewWorker(Config{
		Exchange:         "nmt_exchange",
		Queue:            "nmt.translate",
		RoutingKey:       "nmt.translate",
		ResultRoutingKey: "nmt.result",
	}, pipeline, zap.NewNop())
}

func TestProcess(t *testing.T) {
	pipeline := &echoPipeline{}
	w := newTestWorker(pipeline)

	t.Run("Valid", func(t *testing.T) {
		result := w.Process(context.Background(), []byte(`{"id":"job-1","mode":"constrained","items":[{"id":103,"src":"a","target_prefix":"b"}]}`))
		if result.JobID != "job-1" || result.Mode != langpair.Constrained {
			t.Errorf("unexpected result %+v", result)
		}
		if result.Envelope.Status.Kind != response.Success {
			t.Errorf("expected SUCCESS, got %+v", result.Envelope.Status)
		}
		if pipeline.mode != langpair.Constrained {
			t.Errorf("pipeline ran in mode %q", pipeline.mode)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		result := w.Process(context.Background(), []byte(`{"id":"job-2","items":[]}`))
		if result.JobID != "job-2" {
			t.Errorf("job id lost: %+v", result)
		}
		if result.Envelope.Status.Kind != response.InvalidAPIRequest || result.Envelope.Status.Why == "" {
			t.Errorf("expected INVALID_API_REQUEST with why, got %+v", result.Envelope)
		}
	})
}

func TestHandle(t *testing.T) {
	t.Run("ResultRoutedOnExchange", func(t *testing.T) {
		w := newTestWorker(&echoPipeline{})
		pub := &fakePublisher{}
		acker := &fakeAcker{}

		w.handle(context.Background(), pub, amqp.Delivery{
			Acknowledger: acker,
			MessageId:    "msg-7",
			Body:         []byte(`{"items":[{"id":100,"src":"hello"}]}`),
		})

		if !acker.acked || acker.nacked {
			t.Errorf("expected ack, got %+v", acker)
		}
		if len(pub.sent) != 1 {
			t.Fatalf("expected 1 publish, got %d", len(pub.sent))
		}
		sent := pub.sent[0]
		if sent.exchange != "nmt_exchange" || sent.key != "nmt.result" {
			t.Errorf("unexpected route %s/%s", sent.exchange, sent.key)
		}
		if sent.msg.DeliveryMode != amqp.Persistent || sent.msg.MessageId != "msg-7" {
			t.Errorf("unexpected publishing %+v", sent.msg)
		}

		var result struct {
			JobID    string `json:"job_id"`
			Envelope struct {
				Status struct {
					Kind string `json:"kind"`
				} `json:"status"`
			} `json:"envelope"`
		}
		if err := json.Unmarshal(sent.msg.Body, &result); err != nil {
			t.Fatalf("result is not JSON: %v", err)
		}
		if result.JobID != "msg-7" {
			t.Errorf("expected message id fallback, got %q", result.JobID)
		}
	})

	t.Run("ReplyTo", func(t *testing.T) {
		w := newTestWorker(&echoPipeline{})
		pub := &fakePublisher{}

		w.handle(context.Background(), pub, amqp.Delivery{
			Acknowledger:  &fakeAcker{},
			ReplyTo:       "amq.rabbitmq.reply-to.abc",
			CorrelationId: "corr-1",
			Body:          []byte(`{"id":"job-3","items":[{"id":100,"src":"hello"}]}`),
		})

		if len(pub.sent) != 1 {
			t.Fatalf("expected 1 publish, got %d", len(pub.sent))
		}
		sent := pub.sent[0]
		if sent.exchange != "" || sent.key != "amq.rabbitmq.reply-to.abc" {
			t.Errorf("expected default exchange reply, got %q/%q", sent.exchange, sent.key)
		}
		if sent.msg.CorrelationId != "corr-1" {
			t.Errorf("correlation id not propagated: %q", sent.msg.CorrelationId)
		}
	})

	t.Run("PublishFailureNacks", func(t *testing.T) {
		w := newTestWorker(&echoPipeline{})
		acker := &fakeAcker{}

		w.handle(context.Background(), &fakePublisher{err: errors.New("channel closed")}, amqp.Delivery{
			Acknowledger: acker,
			Body:         []byte(`{"items":[{"id":100,"src":"hello"}]}`),
		})

		if acker.acked || !acker.nacked || acker.requeue {
			t.Errorf("expected nack without requeue, got %+v", acker)
		}
	})

	t.Run("ShutdownRequeues", func(t *testing.T) {
		w := newTestWorker(&echoPipeline{})
		pub := &fakePublisher{}
		acker := &fakeAcker{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w.handle(ctx, pub, amqp.Delivery{
			Acknowledger: acker,
			Body:         []byte(`{"items":[{"id":100,"src":"hello"}]}`),
		})

		if len(pub.sent) != 0 {
			t.Errorf("interrupted job must not publish a result, got %d", len(pub.sent))
		}
		if acker.acked || !acker.nacked || !acker.requeue {
			t.Errorf("expected nack with requeue, got %+v", acker)
		}
	})
}
