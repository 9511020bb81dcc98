package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"market_files/server/common/infra/mq"
	"market_files/server/fileman/domain"
)

const FileEventsExchange = "files.events"

const (
	EventFileIngested  = "file.ingested"
	EventFileRetracted = "file.retracted"
	EventBlobOrphaned  = "blob.orphaned"
)

type FileEvent struct {
	Type          string    `json:"type"`
	FileID        string    `json:"fileId"`
	ServiceID     string    `json:"serviceId"`
	UserID        string    `json:"userId"`
	Path          string    `json:"path"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
	Hash          string    `json:"hash"`
	At            time.Time `json:"at"`
}

func newFileEvent(kind string, rec domain.FileRecord, at time.Time) FileEvent {
	return FileEvent{
		Type:          kind,
		FileID:        rec.ID,
		ServiceID:     rec.ParentID,
		UserID:        rec.OwnerID,
		Path:          rec.StoragePath,
		ThumbnailPath: rec.ThumbnailPath(),
		Hash:          rec.ContentHash,
		At:            at,
	}
}

// EventPublisher fans file lifecycle events out to other services.
// Delivery is best effort; callers log failures and move on.
type EventPublisher interface {
	Publish(ctx context.Context, event FileEvent) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, FileEvent) error { return nil }

type AMQPPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := mq.OpenTopicChannel(conn, FileEventsExchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{channel: ch, exchange: FileEventsExchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event FileEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.At,
		MessageId:    event.FileID,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Close()
}
