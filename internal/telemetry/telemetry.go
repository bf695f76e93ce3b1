package telemetry

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger is the shared service logger, ready after InitTelemetry.
var Logger *zap.Logger

var tracerProvider *sdktrace.TracerProvider

// InitTelemetry sets up the zap logger and the OTLP trace exporter for the
// given service name. OTEL_EXPORTER_OTLP_ENDPOINT controls where spans go;
// if it is unset, spans are still recorded but export fails silently, which
// is fine for local runs.
func InitTelemetry(serviceName string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	Logger = logger.With(zap.String("service", serviceName))

	exporter, err := otlptracehttp.New(context.Background())
	if err != nil {
		return err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", env()),
		),
	)
	if err != nil {
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	return nil
}

// Shutdown flushes pending spans and the logger.
func Shutdown(ctx context.Context) {
	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(ctx)
	}
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TracingMiddleware opens a server span per request and stores the span
// context on the request context.
func TracingMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("http")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func env() string {
	if e := os.Getenv("ENVIRONMENT"); e != "" {
		return e
	}
	return "development"
}
