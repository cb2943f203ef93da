package common

// APIKeyHeaderName carries the API key on classification requests.
const APIKeyHeaderName = "X-API-Key"

// ForwardedForHeaderName carries the client address when the server runs
// behind a trusted proxy.
const ForwardedForHeaderName = "X-Forwarded-For"
