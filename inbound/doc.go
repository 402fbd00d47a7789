// Package inbound turns normalized HTTP requests into smart-home service
// calls.
//
// The same Dispatcher serves the API Gateway Lambda adapter and the chi
// HTTP handler. Mutating routes carrying an Idempotency-Key header use
// claim/complete/fail semantics so a retried delivery is answered without
// repeating the mutation, while failed attempts stay retryable.
package inbound
