package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// PutMetricData batches are kept small so one failed call loses little
const cloudWatchBatchSize = 20

// PutMetricDataAPI is the part of the CloudWatch client the publisher needs
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics buffers pipeline metrics and publishes them to
// CloudWatch on Flush. It satisfies ports.PipelineMetrics; Lambda handlers
// flush at the end of each invocation and servers flush on an interval.
type CloudWatchMetrics struct {
	client    PutMetricDataAPI
	namespace string
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	buffer []types.MetricDatum
}

// NewCloudWatchMetrics creates a buffering CloudWatch publisher
func NewCloudWatchMetrics(client PutMetricDataAPI, namespace string, logger *zap.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger, now: time.Now}
}

func (m *CloudWatchMetrics) record(name string, value float64, unit types.StandardUnit, dims ...string) {
	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	}
	for i := 0; i+1 < len(dims); i += 2 {
		datum.Dimensions = append(datum.Dimensions, types.Dimension{
			Name:  aws.String(dims[i]),
			Value: aws.String(dims[i+1]),
		})
	}
	m.mu.Lock()
	m.buffer = append(m.buffer, datum)
	m.mu.Unlock()
}

// MessageProcessed implements ports.PipelineMetrics
func (m *CloudWatchMetrics) MessageProcessed(kind string, fallback bool) {
	m.record("MessagesProcessed", 1, types.StandardUnitCount, "Kind", kind, "Fallback", strconv.FormatBool(fallback))
}

// ConsensusTransition implements ports.PipelineMetrics
func (m *CloudWatchMetrics) ConsensusTransition(state string) {
	m.record("ConsensusTransitions", 1, types.StandardUnitCount, "State", state)
}

// PlanFinished implements ports.PipelineMetrics
func (m *CloudWatchMetrics) PlanFinished(outcome string, duration time.Duration) {
	m.record("PlanGenerations", 1, types.StandardUnitCount, "Outcome", outcome)
	m.record("PlanGenerationLatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, "Outcome", outcome)
}

// StorageRetry implements ports.PipelineMetrics
func (m *CloudWatchMetrics) StorageRetry(operation string) {
	m.record("StorageRetries", 1, types.StandardUnitCount, "Operation", operation)
}

// NotificationFailed implements ports.PipelineMetrics
func (m *CloudWatchMetrics) NotificationFailed(notifier string) {
	m.record("NotificationFailures", 1, types.StandardUnitCount, "Notifier", notifier)
}

// Pending returns the number of buffered data points
func (m *CloudWatchMetrics) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Flush publishes buffered data points. Points of a failed batch are dropped
// and logged; metrics never block the pipeline.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	pending := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	for i := 0; i < len(pending); i += cloudWatchBatchSize {
		end := i + cloudWatchBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if _, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[i:end],
		}); err != nil {
			m.logger.Warn("Failed to send metrics", zap.Int("dropped", end-i), zap.Error(err))
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}
