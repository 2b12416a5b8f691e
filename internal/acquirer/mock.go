package acquirer

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Mock is an in-process acquirer for development and tests. It honors
// idempotency keys: a repeated call with a key it has already served returns
// the recorded outcome without performing a second charge. Tokens with the
// "tok_declined" prefix are declined, which gives tests a deterministic
// failure path.
type Mock struct {
	mu   sync.Mutex
	seen map[string]Response

	// AuthorizeCalls and CaptureCalls count calls that actually executed
	// (replays excluded), so tests can assert effectively-once behavior.
	AuthorizeCalls int
	CaptureCalls   int
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{seen: make(map[string]Response)}
}

// Authorize implements Client.
func (m *Mock) Authorize(_ context.Context, token string, _ decimal.Decimal, _, paymentID, idempotencyKey string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seen["auth:"+idempotencyKey]; ok {
		return prior, nil
	}

	resp := Response{Success: true, RemoteAuthID: "AUTH-" + paymentID}
	if strings.HasPrefix(token, "tok_declined") {
		resp = Response{Success: false, Reason: "card declined"}
	}
	m.seen["auth:"+idempotencyKey] = resp
	m.AuthorizeCalls++
	return resp, nil
}

// Capture implements Client.
func (m *Mock) Capture(_ context.Context, remoteAuthID string, _ decimal.Decimal, idempotencyKey string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.seen["cap:"+idempotencyKey]; ok {
		return prior, nil
	}

	resp := Response{Success: true, RemoteAuthID: remoteAuthID}
	m.seen["cap:"+idempotencyKey] = resp
	m.CaptureCalls++
	return resp, nil
}
