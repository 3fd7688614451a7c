package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// QueueGauges is one snapshot of pipeline depth and health.
type QueueGauges struct {
	Pending int64
	Retry   int64
	DLQ     int64
	Healthy bool
}

// MetricsReporter publishes queue gauges to CloudWatch.
type MetricsReporter struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricsReporter returns a reporter writing into namespace.
func NewMetricsReporter(client CloudWatchAPI, namespace string) *MetricsReporter {
	return &MetricsReporter{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Report writes PendingCount, RetryCount, DLQCount and Healthy in a single
// PutMetricData call.
func (r *MetricsReporter) Report(ctx context.Context, g QueueGauges) error {
	now := r.nowFunc()
	healthy := 0.0
	if g.Healthy {
		healthy = 1
	}

	datum := func(name string, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(v),
		}
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum("PendingCount", float64(g.Pending)),
			datum("RetryCount", float64(g.Retry)),
			datum("DLQCount", float64(g.DLQ)),
			datum("Healthy", healthy),
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
