package websocket

import (
	"context"
	"errors"
	"fmt"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/messaging"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"
)

// PostToConnectionAPI is the part of the management API client the notifier needs
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// ConnectionSource lists and prunes session connections
type ConnectionSource interface {
	ForSession(ctx context.Context, sessionID valueobjects.SessionID) ([]Connection, error)
	Remove(ctx context.Context, connectionID string) error
}

// Notifier posts session events to every API Gateway connection following the session
type Notifier struct {
	client      PostToConnectionAPI
	connections ConnectionSource
	logger      *zap.Logger
}

// NewNotifier creates a WebSocket notifier
func NewNotifier(client PostToConnectionAPI, connections ConnectionSource, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, connections: connections, logger: logger}
}

// NewManagementClient builds a management API client for a WebSocket stage
// endpoint such as "abc.execute-api.us-west-2.amazonaws.com/prod".
func NewManagementClient(cfg aws.Config, endpoint string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String("https://" + endpoint)
	})
}

// Name implements ports.Notifier
func (n *Notifier) Name() string { return "websocket" }

// Notify implements ports.Notifier. Gone connections are pruned and do not
// count as failures; the call fails only when no connection got the events.
func (n *Notifier) Notify(ctx context.Context, sessionID valueobjects.SessionID, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	conns, err := n.connections.ForSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}
	payloads, err := messaging.Encode(records)
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode events").WithCause(err)
	}

	delivered, failed := 0, 0
	var lastErr error
	for _, conn := range conns {
		err := n.post(ctx, conn.ConnectionID, payloads)
		switch {
		case err == nil:
			delivered++
		case isGone(err):
			n.logger.Info("Connection is gone, removing",
				zap.String("sessionID", sessionID.String()),
				zap.String("connectionID", conn.ConnectionID),
			)
			if rmErr := n.connections.Remove(ctx, conn.ConnectionID); rmErr != nil {
				n.logger.Warn("Failed to remove stale connection", zap.String("connectionID", conn.ConnectionID), zap.Error(rmErr))
			}
		default:
			failed++
			lastErr = err
			n.logger.Warn("Failed to post to connection",
				zap.String("sessionID", sessionID.String()),
				zap.String("connectionID", conn.ConnectionID),
				zap.Error(err),
			)
		}
	}

	n.logger.Debug("WebSocket push complete",
		zap.String("sessionID", sessionID.String()),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
	)
	if failed > 0 && delivered == 0 {
		return pkgerrors.NewExternalError("apigateway", fmt.Errorf("all %d connections failed: %w", failed, lastErr))
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, connectionID string, payloads [][]byte) error {
	for _, data := range payloads {
		if _, err := n.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         data,
		}); err != nil {
			return err
		}
	}
	return nil
}

func isGone(err error) bool {
	var gone *apigwTypes.GoneException
	return errors.As(err, &gone)
}
