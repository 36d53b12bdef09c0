// Package billing abstracts the external subscription-billing provider.
//
// The Provider interface covers the calls the membership core needs:
// canonical subscription reads, cancel/resume/price updates and webhook
// verification. Webhook payloads are normalized into a closed event union
// at this boundary so provider-specific field names never reach the
// reconciler.
package billing
