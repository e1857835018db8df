// Package main implements the Lambda that re-arms plan generation after a
// recoverable plan.failed event, up to a bounded number of attempts.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"

	"ideaflow/application/commands"
	commandbus "ideaflow/application/commands/bus"
	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	domainevents "ideaflow/domain/events"
	"ideaflow/infrastructure/config"
	"ideaflow/infrastructure/di"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	eventPageSize      = 500
)

type commandSender interface {
	Send(ctx context.Context, cmd commandbus.Command) (any, error)
}

type queryAsker interface {
	Ask(ctx context.Context, query querybus.Query) (any, error)
}

type planFailure struct {
	IdeaID      string `json:"idea_id"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
}

type retrier struct {
	commands    commandSender
	queries     queryAsker
	maxAttempts int
	logger      *zap.Logger
}

func (r *retrier) handle(ctx context.Context, event events.CloudWatchEvent) error {
	var record domainevents.Record
	if err := json.Unmarshal(event.Detail, &record); err != nil || record.EventType != domainevents.TypePlanFailed {
		r.logger.Debug("Ignoring event", zap.String("detailType", event.DetailType))
		return nil
	}
	var failure planFailure
	if err := json.Unmarshal(record.Payload, &failure); err != nil {
		r.logger.Warn("Dropping plan failure with undecodable payload", zap.String("eventID", record.EventID), zap.Error(err))
		return nil
	}
	logger := r.logger.With(
		zap.String("sessionID", record.SessionID),
		zap.String("ideaID", failure.IdeaID),
		zap.String("code", failure.Code),
	)
	if !failure.Recoverable {
		logger.Info("Plan failure is not recoverable, not retrying")
		return nil
	}

	attempts, err := r.failedAttempts(ctx, record.SessionID, failure.IdeaID)
	if err != nil {
		return err
	}
	if attempts >= r.maxAttempts {
		logger.Warn("Plan retry budget exhausted", zap.Int("attempts", attempts))
		return nil
	}

	if _, err := r.commands.Send(ctx, commands.RequestPlanCommand{SessionID: record.SessionID}); err != nil {
		// Another invocation or a client already re-armed the plan.
		if pkgerrors.IsConflict(err) {
			logger.Info("Plan already requested or generated", zap.Error(err))
			return nil
		}
		if pkgerrors.IsNotFound(err) || pkgerrors.IsValidation(err) {
			logger.Warn("Session no longer accepts plan requests", zap.Error(err))
			return nil
		}
		return err
	}
	logger.Info("Plan generation re-armed", zap.Int("attempt", attempts+1))
	return nil
}

// failedAttempts counts plan.failed events already recorded for the idea
func (r *retrier) failedAttempts(ctx context.Context, sessionID, ideaID string) (int, error) {
	count, after := 0, 0
	for {
		out, err := r.queries.Ask(ctx, queries.ListEventsQuery{SessionID: sessionID, AfterVersion: after, Limit: eventPageSize})
		if err != nil {
			return 0, err
		}
		page := out.([]domainevents.Record)
		for _, rec := range page {
			after = rec.Version
			if rec.EventType != domainevents.TypePlanFailed {
				continue
			}
			var f planFailure
			if json.Unmarshal(rec.Payload, &f) == nil && f.IdeaID == ideaID {
				count++
			}
		}
		if len(page) < eventPageSize {
			return count, nil
		}
	}
}

func main() {
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	container, _, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	maxAttempts := defaultMaxAttempts
	if v, err := strconv.Atoi(os.Getenv("PLAN_MAX_ATTEMPTS")); err == nil && v > 0 {
		maxAttempts = v
	}
	r := &retrier{
		commands:    container.CommandBus,
		queries:     container.QueryBus,
		maxAttempts: maxAttempts,
		logger:      container.Logger,
	}
	lambda.Start(func(ctx context.Context, event events.CloudWatchEvent) error {
		err := r.handle(ctx, event)
		container.Outbox.Flush(ctx)
		container.FlushMetrics(ctx)
		return err
	})
}
