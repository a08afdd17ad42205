package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceattr/internal/models"
	"github.com/your-org/faceattr/internal/observability"
)

// ErrTerminal marks a handler error that must not be redelivered.
var ErrTerminal = errors.New("terminal message failure")

// Terminal wraps err so the consumer terminates the message instead of
// asking for redelivery.
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

type (
	TaskHandler   func(ctx context.Context, task *models.AnalyzeTask) error
	ResultHandler func(ctx context.Context, ev *models.AnalysisEvent) error
)

// ackAction is what happens to a message after its handler ran.
type ackAction int

const (
	actionAck ackAction = iota
	actionNak
	actionTerm
)

func (a ackAction) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionNak:
		return "nak"
	default:
		return "term"
	}
}

// dispatch decodes data into T and runs handle. Undecodable payloads are
// terminated; handler errors are redelivered unless marked terminal.
func dispatch[T any](ctx context.Context, data []byte, handle func(context.Context, *T) error) (ackAction, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return actionTerm, fmt.Errorf("decode message: %w", err)
	}
	if err := handle(ctx, &v); err != nil {
		if errors.Is(err, ErrTerminal) {
			return actionTerm, err
		}
		return actionNak, err
	}
	return actionAck, nil
}

func settle(msg jetstream.Msg, action ackAction) {
	var err error
	switch action {
	case actionAck:
		err = msg.Ack()
	case actionNak:
		err = msg.Nak()
	case actionTerm:
		err = msg.Term()
	}
	if err != nil {
		slog.Warn("settle message", "action", action.String(), "subject", msg.Subject(), "error", err)
	}
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeTasks starts consuming analysis tasks from the ANALYZE stream.
// workerCount determines how many goroutines process messages concurrently.
func (c *Consumer) ConsumeTasks(ctx context.Context, consumerName string, handler TaskHandler, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	stream, err := c.js.Stream(ctx, TasksStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", TasksStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    3,
		FilterSubject: TasksSubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				observability.TasksInFlight.Inc()
				action, err := dispatch[models.AnalyzeTask](ctx, msg.Data(), handler)
				observability.TasksInFlight.Dec()
				if err != nil {
					slog.Error("process task error", "worker", workerID, "action", action.String(), "error", err, "subject", msg.Subject())
				}
				settle(msg, action)
			}
		}(i)
	}

	slog.Info("task consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeResults starts consuming analysis results (for the API to persist
// and broadcast via WebSocket).
func (c *Consumer) ConsumeResults(ctx context.Context, consumerName string, handler ResultHandler) error {
	stream, err := c.js.Stream(ctx, ResultsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ResultsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: ResultsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				action, err := dispatch[models.AnalysisEvent](ctx, msg.Data(), handler)
				if err != nil {
					slog.Error("process result error", "action", action.String(), "error", err)
				}
				settle(msg, action)
			}
		}
	}()

	slog.Info("result consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
