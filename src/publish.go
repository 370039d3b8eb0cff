package samewatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// AlertRecord is the published form of a decoded candidate.
type AlertRecord struct {
	Source     string    `json:"source"`
	Header     string    `json:"header"`
	Originator string    `json:"originator,omitempty"`
	Event      string    `json:"event,omitempty"`
	Locations  []string  `json:"locations,omitempty"`
	PurgeMin   int       `json:"purge_minutes,omitempty"`
	Station    string    `json:"station,omitempty"`
	IssuedAt   time.Time `json:"issued_at,omitempty"`
	EOM        bool      `json:"eom,omitempty"`
	Confidence float64   `json:"confidence"`
	Bursts     int       `json:"bursts"`
	DecodedAt  time.Time `json:"decoded_at"`
}

// Publisher writes decoded alerts to a Kafka topic, keyed by the header
// string so replays of the same alert land in the same partition.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

func newAlertRecord(source string, c DecodedCandidate) AlertRecord {
	var rec = AlertRecord{
		Source:     source,
		Header:     c.Header,
		EOM:        c.EOM,
		Confidence: c.Confidence,
		Bursts:     c.Bursts,
		DecodedAt:  c.End,
	}
	if c.Fields != nil {
		rec.Originator = c.Fields.Originator
		rec.Event = c.Fields.Event
		rec.Locations = c.Fields.Locations
		rec.PurgeMin = int(c.Fields.Purge / time.Minute)
		rec.Station = c.Fields.Station
		rec.IssuedAt = c.Fields.IssueTime
	}
	return rec
}

func (p *Publisher) Publish(ctx context.Context, source string, c DecodedCandidate) error {
	var payload, marshalErr = json.Marshal(newAlertRecord(source, c))
	if marshalErr != nil {
		return fmt.Errorf("marshal alert: %w", marshalErr)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.Header),
		Value: payload,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
