package ledger

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Identifier prefixes per entity kind.
const (
	PrefixCard          = "card"
	PrefixTransaction   = "txn"
	PrefixDispute       = "dspt"
	PrefixMerchantToken = "tok"
	PrefixShareLink     = "share"
)

// tokenNamespace seeds deterministic merchant token ids.
var tokenNamespace = uuid.MustParse("6f1c8a52-3d0e-4b8e-9a57-0d9b2f0c4e11")

// NewID returns a fresh identifier such as "card_<uuid>".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// MerchantTokenID returns the id of the token for (cardID, merchantID). The
// same pair always yields the same id, so a token is stored at most once.
func MerchantTokenID(cardID, merchantID string) string {
	return PrefixMerchantToken + "_" + uuid.NewSHA1(tokenNamespace, []byte(cardID+"|"+merchantID)).String()
}

// ValidateID checks if an identifier is usable as a ledger key.
//
// Rules:
// - Non-empty string
// - Maximum length of 128 characters
// - No control characters or whitespace
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidKey
	}

	if len(id) > 128 {
		return fmt.Errorf("%w: id too long (max 128 characters)", ErrInvalidKey)
	}

	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: id contains control or space character", ErrInvalidKey)
		}
	}

	return nil
}

// KeyPattern builds namespaced backend keys such as "cardctl:cards:card_1".
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    strings.TrimSuffix(prefix, separator),
		separator: separator,
	}
}

// Build joins the prefix and parts with the separator.
// Example: pattern.Build("cards", "card_1") -> "cardctl:cards:card_1"
func (kp *KeyPattern) Build(parts ...string) string {
	var b strings.Builder
	b.WriteString(kp.prefix)
	for _, part := range parts {
		if b.Len() > 0 {
			b.WriteString(kp.separator)
		}
		b.WriteString(part)
	}
	return b.String()
}

// Strip removes the prefix built by Build from key.
func (kp *KeyPattern) Strip(key string) string {
	if kp.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, kp.prefix+kp.separator)
}
