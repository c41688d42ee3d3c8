package sync

import "github.com/mkovacs/mailroom/internal/models"

// Notifier receives progress events from running sync passes. Implementations
// must not block; the sync loop calls it inline for every processed message.
type Notifier interface {
	Progress(event *models.ProgressEvent)
}

// NopNotifier discards all progress events.
type NopNotifier struct{}

func (NopNotifier) Progress(*models.ProgressEvent) {}
