package auth

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idpgate/pkg/autherr"
	"github.com/platinummonkey/idpgate/pkg/idp"
)

const tracerName = "github.com/platinummonkey/idpgate/pkg/auth"

// providerCall starts a span around one identity provider call and applies
// the provider deadline. finish must be called with the call's error once
// it returns. Span attributes never carry usernames or credentials.
func (s *Service) providerCall(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "idp."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("idp.operation", operation)),
	)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	return ctx, func(err error) {
		defer span.End()
		defer cancel()
		if err == nil {
			return
		}

		kind := autherr.Map(err).Kind
		span.SetAttributes(attribute.String("idp.error_kind", string(kind)))
		if pe, ok := idp.AsProviderError(err); ok {
			span.SetAttributes(
				attribute.String("idp.error_code", pe.Code),
				attribute.Bool("idp.timeout", pe.Timeout),
			)
		}
		span.SetStatus(codes.Error, string(kind))
	}
}
