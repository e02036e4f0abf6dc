package redis

import "strings"

// Every key this service writes starts with keyNamespace followed by one of
// the kinds below.
const (
	keyNamespace = "od"

	kindIdempotency = "idempotency"
	kindRateLimit   = "rate_limit"
	kindCounter     = "counter"
	kindLock        = "lock"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(kindIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(kindRateLimit, scope)
}

func (c *Client) CounterKey(name string) string {
	return buildKey(kindCounter, name)
}

func (c *Client) LockKey(name string) string {
	return buildKey(kindLock, name)
}

// buildKey joins the non-blank parts with ':' under the namespace.
func buildKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
