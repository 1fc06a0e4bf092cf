// Package notify implements a step adapter that publishes announcement
// messages to an AMQP broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("publisher closed")

// Publisher owns an AMQP channel on a declared topic exchange. A
// single publisher is shared by the announcement adapters.
type Publisher struct {
	mu       sync.RWMutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares the named topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish sends body to the exchange under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.channel == nil {
		return ErrClosed
	}
	return p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	if cerr := p.conn.Close(); err == nil {
		err = cerr
	}
	p.channel = nil
	return err
}

// StepPublisher publishes one announcement message.
type StepPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Adapter executes an announcement step by publishing a message.
type Adapter struct {
	name   string
	pub    StepPublisher
	logger log.Logger
}

type Option func(*Adapter)

func WithLogger(logger log.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates a new notify adapter for the step named name.
func New(name string, pub StepPublisher, opts ...Option) *Adapter {
	a := &Adapter{
		name:   name,
		pub:    pub,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logkeys.StepName, a.name)
	return a
}

func (a *Adapter) Name() string {
	return a.name
}

// message is the announcement body.
type message struct {
	RequestID string                 `json:"request_id"`
	Lifecycle workflow.LifecycleType `json:"lifecycle"`
	Step      string                 `json:"step"`
	Subject   string                 `json:"subject"`
	Email     string                 `json:"email"`
	At        time.Time              `json:"at"`
}

// Execute publishes the announcement. The routing key is
// "staffcycle.<lifecycle>.<step>".
func (a *Adapter) Execute(ctx context.Context, sc *workflow.StepContext) (*workflow.StepOutcome, error) {
	routingKey := fmt.Sprintf("staffcycle.%s.%s", sc.Lifecycle, sc.StepName)
	body, err := json.Marshal(&message{
		RequestID: sc.RequestID,
		Lifecycle: sc.Lifecycle,
		Step:      sc.StepName,
		Subject:   sc.Attributes.Name,
		Email:     sc.Attributes.Email,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if err = a.pub.Publish(ctx, routingKey, body); err != nil {
		return nil, fmt.Errorf("publish message: %w", err)
	}
	a.logger.Debug(
		logkeys.Message, "published announcement",
		logkeys.RequestID, sc.RequestID,
		"routing_key", routingKey,
	)
	return workflow.Done(workflow.ResultData{"routing_key": routingKey}), nil
}
