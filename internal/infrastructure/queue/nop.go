package queue

import (
	"context"

	"github.com/hszk-dev/mediadrop/internal/domain/repository"
)

// NopPublisher discards events. It is used when events are disabled.
type NopPublisher struct{}

var _ repository.EventPublisher = NopPublisher{}

func (NopPublisher) PublishSessionEvent(context.Context, repository.SessionEvent) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
