// Package testutil provides testing utilities for loom.
package testutil

// Safe test tokens that won't trigger a forge's push protection or secret
// scanners. These are intentionally simple and obviously fake.
const (
	// FakeForgeToken is a safe test token for forge API authentication.
	FakeForgeToken = "test-forge-token"

	// FakeWebhookSecret is a safe test secret for webhook signatures.
	FakeWebhookSecret = "test-webhook-secret"

	// FakeWebhookURL is a safe test URL for notification webhooks.
	FakeWebhookURL = "https://hooks.example.test/services/TEST/WEBHOOK/URL"

	// FakeBearerToken is a safe test bearer token.
	FakeBearerToken = "test-bearer-token"
)
