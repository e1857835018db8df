// Package main implements the WebSocket connection Lambda handler. It records
// which session a connection follows on $connect and forgets it on $disconnect.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/infrastructure/config"
	"ideaflow/infrastructure/messaging/websocket"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// ConnectionRegistry is the part of the registry the handler needs
type ConnectionRegistry interface {
	Add(ctx context.Context, conn websocket.Connection) error
	Remove(ctx context.Context, connectionID string) error
}

type connectHandler struct {
	registry ConnectionRegistry
	now      func() time.Time
	logger   *zap.Logger
}

func (h *connectHandler) handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	logger := h.logger.With(
		zap.String("connectionID", connectionID),
		zap.String("routeKey", req.RequestContext.RouteKey),
	)

	switch req.RequestContext.RouteKey {
	case "$connect":
		sessionID, err := valueobjects.NewSessionIDFromString(req.QueryStringParameters["sessionId"])
		if err != nil {
			logger.Warn("Rejected connection without a valid session id", zap.Error(err))
			return respond(http.StatusBadRequest, "sessionId query parameter is required"), nil
		}
		conn := websocket.Connection{
			ConnectionID: connectionID,
			SessionID:    sessionID,
			Endpoint:     req.RequestContext.DomainName + "/" + req.RequestContext.Stage,
			ConnectedAt:  h.now(),
		}
		if err := h.registry.Add(ctx, conn); err != nil {
			logger.Error("Failed to store connection", zap.Error(err))
			return respond(http.StatusInternalServerError, "failed to connect"), nil
		}
		logger.Info("Connection established", zap.String("sessionID", sessionID.String()))
		return respond(http.StatusOK, "connected"), nil

	case "$disconnect":
		if err := h.registry.Remove(ctx, connectionID); err != nil {
			logger.Error("Failed to remove connection", zap.Error(err))
			return respond(http.StatusInternalServerError, "failed to disconnect"), nil
		}
		logger.Info("Connection closed")
		return respond(http.StatusOK, "disconnected"), nil

	default:
		return respond(http.StatusBadRequest, "unsupported route"), nil
	}
}

func respond(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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

	h := &connectHandler{
		registry: websocket.NewRegistry(dynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable),
		now:      time.Now,
		logger:   logger,
	}
	lambda.Start(h.handle)
}
