package economy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxKeyLength bounds caller-supplied idempotency keys.
const MaxKeyLength = 128

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("afterschool:economy"))

// ValidateKey checks a caller-supplied idempotency key.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return Invalid("idempotency_key", "required")
	case len(key) > MaxKeyLength:
		return Invalid("idempotency_key", "must be at most "+strconv.Itoa(MaxKeyLength)+" characters")
	}
	return nil
}

// DeriveKey builds a deterministic system idempotency key from an operation
// name and the values it applies to, e.g. DeriveKey("auction-settle", session, lot).
func DeriveKey(op string, parts ...any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range parts {
		fmt.Fprintf(&b, ":%v", p)
	}
	return op + ":" + uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}
