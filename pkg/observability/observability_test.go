package observability

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCollector_PipelineMetrics(t *testing.T) {
	c := NewCollector("test")

	c.MessageProcessed("idea", false)
	c.MessageProcessed("idea", false)
	c.MessageProcessed("reasoning", true)
	c.ConsensusTransition("EXECUTION_TRIGGERED")
	c.PlanFinished("success", 2*time.Second)
	c.StorageRetry("save")
	c.NotificationFailed("eventbridge")
	c.ObserveHTTP("POST", "/api/v1/sessions", 201, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.MessagesProcessed.WithLabelValues("idea", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesProcessed.WithLabelValues("reasoning", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConsensusTransitions.WithLabelValues("EXECUTION_TRIGGERED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PlanGenerations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StorageRetries.WithLabelValues("save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NotificationFailures.WithLabelValues("eventbridge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("POST", "/api/v1/sessions", "201")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_plan_generation_duration_seconds")
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must not clash on registration.
	a := NewCollector("ns")
	b := NewCollector("ns")
	a.StorageRetry("load")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StorageRetries.WithLabelValues("load")))
}

type fakeCloudWatch struct {
	mu    sync.Mutex
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchMetrics_Flush(t *testing.T) {
	tests := []struct {
		name    string
		records int
		batches []int
		err     error
	}{
		{name: "nothing buffered", records: 0, batches: nil},
		{name: "single batch", records: 5, batches: []int{5}},
		{name: "split batches", records: 45, batches: []int{20, 20, 5}},
		{name: "errors drop points", records: 3, batches: []int{3}, err: errors.New("throttled")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeCloudWatch{err: tt.err}
			m := NewCloudWatchMetrics(client, "ideaflow", nil)
			for i := 0; i < tt.records; i++ {
				m.StorageRetry("save")
			}
			assert.Equal(t, tt.records, m.Pending())

			m.Flush(context.Background())

			require.Len(t, client.calls, len(tt.batches))
			for i, size := range tt.batches {
				assert.Len(t, client.calls[i].MetricData, size)
				assert.Equal(t, "ideaflow", aws.ToString(client.calls[i].Namespace))
			}
			assert.Zero(t, m.Pending())
		})
	}
}

func TestCloudWatchMetrics_Dimensions(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchMetrics(client, "ideaflow", nil)

	m.PlanFinished("timeout", 1500*time.Millisecond)
	m.Flush(context.Background())

	require.Len(t, client.calls, 1)
	data := client.calls[0].MetricData
	require.Len(t, data, 2)
	assert.Equal(t, "PlanGenerations", aws.ToString(data[0].MetricName))
	assert.Equal(t, "PlanGenerationLatency", aws.ToString(data[1].MetricName))
	assert.Equal(t, 1500.0, aws.ToFloat64(data[1].Value))
	require.Len(t, data[1].Dimensions, 1)
	assert.Equal(t, "Outcome", aws.ToString(data[1].Dimensions[0].Name))
	assert.Equal(t, "timeout", aws.ToString(data[1].Dimensions[0].Value))
}

func TestCloudWatchMetrics_RunFlushesOnStop(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchMetrics(client, "ideaflow", nil)
	m.NotificationFailed("websocket")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.calls, 1)
}

func TestTracer_TraceFunction(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())
	tracer := NewTracerFrom(provider, "test")

	require.NoError(t, tracer.TraceFunction(context.Background(), "ok", func(context.Context) error { return nil }))
	err := tracer.TraceFunction(context.Background(), "fails", func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "fails", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.True(t, strings.Contains(spans[1].Status().Description, "boom"))
}

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	tracer, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)

	_, span := tracer.StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}
