// Package main implements the Lambda that forwards session events from the
// EventBridge bus to clients connected through the WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"log"

	"ideaflow/domain/core/valueobjects"
	domainevents "ideaflow/domain/events"
	"ideaflow/infrastructure/config"
	"ideaflow/infrastructure/messaging/websocket"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// SessionNotifier pushes records to the connections following a session
type SessionNotifier interface {
	Notify(ctx context.Context, sessionID valueobjects.SessionID, records []domainevents.Record) error
}

type forwarder struct {
	notifier SessionNotifier
	logger   *zap.Logger
}

// handle forwards one bus event. Malformed events are logged and dropped so
// EventBridge does not retry them; delivery failures are returned for retry.
func (f *forwarder) handle(ctx context.Context, event events.CloudWatchEvent) error {
	var record domainevents.Record
	if err := json.Unmarshal(event.Detail, &record); err != nil {
		f.logger.Warn("Dropping event with undecodable detail",
			zap.String("eventID", event.ID),
			zap.String("detailType", event.DetailType),
			zap.Error(err),
		)
		return nil
	}
	sessionID, err := valueobjects.NewSessionIDFromString(record.SessionID)
	if err != nil {
		f.logger.Warn("Dropping event without a valid session",
			zap.String("eventID", record.EventID),
			zap.String("eventType", record.EventType),
		)
		return nil
	}

	if err := f.notifier.Notify(ctx, sessionID, []domainevents.Record{record}); err != nil {
		f.logger.Error("Failed to forward event",
			zap.String("sessionID", record.SessionID),
			zap.String("eventID", record.EventID),
			zap.Error(err),
		)
		return err
	}
	f.logger.Debug("Event forwarded",
		zap.String("sessionID", record.SessionID),
		zap.String("eventType", record.EventType),
		zap.Int("version", record.Version),
	)
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.WebSocketEndpoint == "" {
		log.Fatal("WEBSOCKET_ENDPOINT is required")
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	registry := websocket.NewRegistry(dynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable)
	f := &forwarder{
		notifier: websocket.NewNotifier(websocket.NewManagementClient(awsCfg, cfg.WebSocketEndpoint), registry, logger),
		logger:   logger,
	}
	lambda.Start(f.handle)
}
