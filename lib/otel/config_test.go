package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "disabled config is always valid",
			config: Config{
				Enabled: false,
			},
		},
		{
			name: "valid stdout config",
			config: Config{
				Enabled:     true,
				ServiceName: "test-service",
				Exporter:    ExporterConfig{Type: "stdout"},
			},
		},
		{
			name: "valid otlp config",
			config: Config{
				Enabled:     true,
				ServiceName: "test-service",
				Exporter: ExporterConfig{
					Type: "otlp",
					OTLP: OTLPConfig{Endpoint: "localhost:4317"},
				},
			},
		},
		{
			name: "missing service name",
			config: Config{
				Enabled:  true,
				Exporter: ExporterConfig{Type: "stdout"},
			},
			wantErr: true,
			errMsg:  "service name is required",
		},
		{
			name: "invalid exporter type",
			config: Config{
				Enabled:     true,
				ServiceName: "test-service",
				Exporter:    ExporterConfig{Type: "invalid"},
			},
			wantErr: true,
			errMsg:  "unsupported exporter type: invalid",
		},
		{
			name: "otlp without endpoint",
			config: Config{
				Enabled:     true,
				ServiceName: "test-service",
				Exporter:    ExporterConfig{Type: "otlp"},
			},
			wantErr: true,
			errMsg:  "OTLP endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.False(t, config.Enabled)
	assert.Equal(t, "smarthost", config.ServiceName)
	assert.Equal(t, "stdout", config.Exporter.Type)
	assert.Equal(t, "localhost:4317", config.Exporter.OTLP.Endpoint)
	assert.Equal(t, 10*time.Second, config.Exporter.OTLP.Timeout)
	require.NoError(t, config.Validate())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	t.Run("disabled", func(t *testing.T) {
		provider, err := Initialize(ctx, Config{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, otel.GetTracerProvider())
		assert.NoError(t, provider.Shutdown(ctx))
	})
	for _, exporterType := range []string{"stdout", "none"} {
		t.Run(exporterType, func(t *testing.T) {
			provider, err := Initialize(ctx, Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Exporter:       ExporterConfig{Type: exporterType},
			})
			require.NoError(t, err)

			_, span := otel.GetTracerProvider().Tracer("test").Start(ctx, "test-span")
			assert.True(t, span.SpanContext().IsValid())
			span.End()

			assert.NoError(t, provider.Shutdown(ctx))
		})
	}
	t.Run("unsupported exporter", func(t *testing.T) {
		_, err := Initialize(ctx, Config{
			Enabled:     true,
			ServiceName: "test-service",
			Exporter:    ExporterConfig{Type: "zipkin"},
		})
		require.EqualError(t, err, "unsupported exporter type: zipkin")
	})
}

func TestTracerProvider_Shutdown(t *testing.T) {
	provider := &TracerProvider{provider: trace.NewTracerProvider()}
	assert.NoError(t, provider.Shutdown(context.Background()))

	shutdownCalled := false
	provider = &TracerProvider{
		provider: trace.NewTracerProvider(),
		cleanup: func(ctx context.Context) error {
			shutdownCalled = true
			return nil
		},
	}
	assert.NoError(t, provider.Shutdown(context.Background()))
	assert.True(t, shutdownCalled)
}
