package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key derives the cache key for a capability request. The payload is
// canonicalized (object keys sorted recursively) so that semantically
// identical requests share a key regardless of field order. Request
// context such as deadlines and request IDs must not be part of the
// payload passed here.
func Key(capability string, payload json.RawMessage) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	hash := sha256.Sum256([]byte(capability + "\n" + canonical))
	return hex.EncodeToString(hash[:]), nil
}

// CanonicalJSON re-encodes a JSON document with object keys sorted at
// every nesting level. Arrays keep their order.
func CanonicalJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, value); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(encKey)
			sb.WriteByte(':')
			if err := writeCanonical(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil

	case []interface{}:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil

	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(enc)
		return nil
	}
}
