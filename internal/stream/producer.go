// Package stream publishes session fills and events to Kafka.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atmx/session-engine/internal/event"
	"github.com/atmx/session-engine/internal/model"
	"github.com/atmx/session-engine/internal/schedule"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FillMessage is the JSON value of a fill record.
type FillMessage struct {
	Session string     `json:"session"`
	Fill    model.Fill `json:"fill"`
}

// EventMessage is the JSON value of an engine event record.
type EventMessage struct {
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Rule    string    `json:"rule,omitempty"`
}

// Producer writes fills keyed by contract and events keyed by kind.
type Producer struct {
	writer      MessageWriter
	session     string
	fillsTopic  string
	eventsTopic string
}

// NewProducer creates a producer writing synchronously to brokers.
func NewProducer(brokers []string, fillsTopic, eventsTopic, session string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, fillsTopic, eventsTopic, session)
}

// NewProducerWithWriter creates a producer on top of an existing writer.
// The writer must not have a fixed topic; every message names its own.
func NewProducerWithWriter(w MessageWriter, fillsTopic, eventsTopic, session string) *Producer {
	return &Producer{writer: w, session: session, fillsTopic: fillsTopic, eventsTopic: eventsTopic}
}

// OnFill publishes a fill. It satisfies execution.FillSink.
func (p *Producer) OnFill(ctx context.Context, f model.Fill) error {
	value, err := json.Marshal(FillMessage{Session: p.session, Fill: f})
	if err != nil {
		return fmt.Errorf("stream: encode fill: %w", err)
	}
	return p.send(ctx, p.fillsTopic, f.Contract.String(), value)
}

// Handle publishes time and end-of-trading events. Empty queue signals
// are internal and skipped.
func (p *Producer) Handle(ctx context.Context, ev event.Event) error {
	if ev.Kind() == event.KindEmptyQueue {
		return nil
	}
	msg := EventMessage{Session: p.session, Kind: ev.Kind().String(), Time: ev.Time()}
	if te, ok := ev.(schedule.TimeEvent); ok {
		msg.Rule = te.RuleName()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("stream: encode event: %w", err)
	}
	return p.send(ctx, p.eventsTopic, msg.Kind, value)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) send(ctx context.Context, topic, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		return fmt.Errorf("stream: write %s: %w", topic, err)
	}
	return nil
}
