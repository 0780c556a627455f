package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var sensitiveAttributeFragments = []string{
	"secret",
	"token",
	"password",
	"authorization",
	"billing_key",
}

// ExtractContext resumes a trace propagated by the caller.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes whose keys look like credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isSensitiveKey(string(attr.Key)) {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError returns an error suitable for span recording. Errors whose
// message embeds credential material are replaced with a generic one.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if isSensitiveKey(err.Error()) {
		return errors.New("redacted error")
	}
	return err
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitiveAttributeFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
