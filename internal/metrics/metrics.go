package metrics

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var log = logging.Logger("metrics")

const meterName = "github.com/storacha/datadao"

var (
	// ObjectsStored counts objects accepted into the store
	ObjectsStored metric.Int64Counter

	// BytesStored counts the payload bytes accepted into the store
	BytesStored metric.Int64Counter

	// DealsSubmitted counts successfully recorded data submissions
	DealsSubmitted metric.Int64Counter

	// RewardsSettled counts successful provider settlements
	RewardsSettled metric.Int64Counter

	// UnsettledDeals keeps track of deals recorded but not yet settled
	UnsettledDeals metric.Int64UpDownCounter
)

// The instruments are bound to the global meter provider at package load, so
// recording is always safe: they stay no-ops until Init installs the
// Prometheus exporter.
func init() {
	if err := registerInstruments(otel.Meter(meterName)); err != nil {
		log.Errorf("registering metrics instruments: %v", err)
	}
}

// Init initializes the OpenTelemetry metrics with Prometheus exporter
func Init() error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	// Create a MeterProvider with the Prometheus exporter
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	// Set the global MeterProvider
	otel.SetMeterProvider(provider)

	if err := registerInstruments(provider.Meter(meterName)); err != nil {
		return err
	}

	log.Info("OpenTelemetry metrics initialized with Prometheus exporter")
	return nil
}

func registerInstruments(meter metric.Meter) error {
	var err error

	ObjectsStored, err = meter.Int64Counter(
		"datadao_objects_stored_total",
		metric.WithDescription("Total number of objects accepted into the store"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ObjectsStored counter: %w", err)
	}

	BytesStored, err = meter.Int64Counter(
		"datadao_bytes_stored_total",
		metric.WithDescription("Total payload bytes accepted into the store"),
	)
	if err != nil {
		return fmt.Errorf("failed to create BytesStored counter: %w", err)
	}

	DealsSubmitted, err = meter.Int64Counter(
		"datadao_deals_submitted_total",
		metric.WithDescription("Total number of recorded data submissions"),
	)
	if err != nil {
		return fmt.Errorf("failed to create DealsSubmitted counter: %w", err)
	}

	RewardsSettled, err = meter.Int64Counter(
		"datadao_rewards_settled_total",
		metric.WithDescription("Total number of successful provider settlements"),
	)
	if err != nil {
		return fmt.Errorf("failed to create RewardsSettled counter: %w", err)
	}

	UnsettledDeals, err = meter.Int64UpDownCounter(
		"datadao_unsettled_deals_total",
		metric.WithDescription("Number of deals recorded but not yet settled"),
	)
	if err != nil {
		return fmt.Errorf("failed to create UnsettledDeals counter: %w", err)
	}

	return nil
}
