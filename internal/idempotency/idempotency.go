// Package idempotency derives stable keys for backend writes so a retried
// request is recognized as the same operation.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Prefix marks generated keys
const Prefix = "ik:"

// Action names the kind of write a key covers
type Action string

const (
	ActionProgress Action = "progress"
	ActionComplete Action = "complete"
	ActionCleanup  Action = "cleanup"
	ActionInject   Action = "inject"
)

// CanonicalJSON converts a value to deterministic JSON by recursively sorting map keys
func CanonicalJSON(v any) ([]byte, error) {
	// Round-trip through encoding/json so structs become maps
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		// order is significant
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to marshal %T: %w", val, err)
		}
		buf.Write(b)
		return nil
	}
}

// Key creates the idempotency key of one write against a movement.
//
// Format: "ik:" + hex(SHA256(action + '\n' + company + '\n' + movement + '\n' + canonical_json(extra)))
//
// extra distinguishes writes that may legitimately repeat for the same
// movement, such as different progress milestones. It may be nil.
func Key(action Action, companyID, movementID string, extra any) (string, error) {
	extraJSON, err := CanonicalJSON(extra)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize key extra: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(string(action) + "\n" + companyID + "\n" + movementID + "\n"))
	h.Write(extraJSON)
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// MustKey is Key for extras known to marshal
func MustKey(action Action, companyID, movementID string, extra any) string {
	k, err := Key(action, companyID, movementID, extra)
	if err != nil {
		panic(err)
	}
	return k
}
