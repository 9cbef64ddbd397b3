package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Scope represents the scope of idempotency
type Scope string

const (
	ScopePayment Scope = "payment"
)

// MetadataKey lets callers pin the request key through metadata when they
// cannot send the Idempotency-Key header.
const MetadataKey = "idempotency_key"

// Generator generates idempotency keys
type Generator struct {
	nonce func() string
}

func NewGenerator() *Generator {
	return &Generator{nonce: uuid.NewString}
}

// GenerateKey hashes the scope and params into a stable key. Params are sorted
// so map iteration order never changes the result.
func (g *Generator) GenerateKey(scope Scope, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%q", k, params[k])
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:16]))
}

// PaymentRequest is the part of a create request the processor token covers.
type PaymentRequest struct {
	RequestKey    string
	CustomerID    string
	PaymentMethod string
	Amount        string
	Currency      string
	Metadata      map[string]string
}

// PaymentKey returns the processor token for a create request and whether it
// came from a caller request key. Only a caller key makes two creates the same
// payment: it is hashed together with the request details, so reusing a key
// for a different payment yields a different token. Without a key every call
// gets a fresh token.
func (g *Generator) PaymentKey(req PaymentRequest) (string, bool) {
	requestKey := strings.TrimSpace(req.RequestKey)
	if requestKey == "" {
		requestKey = strings.TrimSpace(req.Metadata[MetadataKey])
	}
	if requestKey == "" {
		return fmt.Sprintf("%s-%s", ScopePayment, g.nonce()), false
	}

	params := map[string]string{
		"request_key":    requestKey,
		"customer_id":    req.CustomerID,
		"payment_method": req.PaymentMethod,
		"amount":         req.Amount,
		"currency":       req.Currency,
	}
	for k, v := range req.Metadata {
		if k == MetadataKey {
			continue
		}
		params["metadata."+k] = v
	}
	return g.GenerateKey(ScopePayment, params), true
}
