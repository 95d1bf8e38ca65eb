// SPDX-License-Identifier: MIT

package telemetry

import "go.opentelemetry.io/otel/attribute"

// SearchAttributes annotates a fan-out span.
func SearchAttributes(mediaType, mediaID string, providerCount, resultCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("search.media_type", mediaType),
		attribute.String("search.media_id", mediaID),
		attribute.Int("search.providers", providerCount),
		attribute.Int("search.results", resultCount),
	}
}

// ProviderAttributes annotates a single provider call.
func ProviderAttributes(provider, op string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.op", op),
		attribute.Int("provider.status", status),
	}
}

// TranslationAttributes annotates one translation build.
func TranslationAttributes(cacheKey, language string, batches int, bypass bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("translation.cache_key", cacheKey),
		attribute.String("translation.language", language),
		attribute.Int("translation.batches", batches),
		attribute.Bool("translation.bypass", bypass),
	}
}
