package catalog

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// ResourceCreated does nothing and returns nil
func (n *NoopEventSink) ResourceCreated(ctx context.Context, resource *Resource) error {
	return nil
}

// ResourceUpdated does nothing and returns nil
func (n *NoopEventSink) ResourceUpdated(ctx context.Context, resource *Resource) error {
	return nil
}

// ResourceDeleted does nothing and returns nil
func (n *NoopEventSink) ResourceDeleted(ctx context.Context, resource *Resource) error {
	return nil
}

// AssetOrphaned does nothing and returns nil
func (n *NoopEventSink) AssetOrphaned(ctx context.Context, assetID string, cause error) error {
	return nil
}

// LogEventSink is an event sink that logs events but takes no other action.
// Orphaned assets are logged at warn level so an operator can sweep them.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates a new logging event sink
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

// ResourceCreated logs the resource creation event
func (l *LogEventSink) ResourceCreated(ctx context.Context, resource *Resource) error {
	l.logger.InfoContext(ctx, "Resource created",
		"type", resource.Type, "id", resource.ID, "name", resource.DisplayName, "assets", len(resource.Assets()))
	return nil
}

// ResourceUpdated logs the resource update event
func (l *LogEventSink) ResourceUpdated(ctx context.Context, resource *Resource) error {
	l.logger.InfoContext(ctx, "Resource updated",
		"type", resource.Type, "id", resource.ID, "version", resource.Version)
	return nil
}

// ResourceDeleted logs the resource deletion event
func (l *LogEventSink) ResourceDeleted(ctx context.Context, resource *Resource) error {
	l.logger.InfoContext(ctx, "Resource deleted", "type", resource.Type, "id", resource.ID)
	return nil
}

// AssetOrphaned logs the orphaned asset
func (l *LogEventSink) AssetOrphaned(ctx context.Context, assetID string, cause error) error {
	l.logger.WarnContext(ctx, "Asset orphaned", "asset_id", assetID, "cause", cause)
	return nil
}
