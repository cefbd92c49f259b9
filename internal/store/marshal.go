package store

import (
	"fmt"

	"github.com/roach88/docstate/internal/ir"
)

// marshalData converts audit data to canonical JSON TEXT for storage.
// A nil object is stored as {}.
func marshalData(data ir.IRObject) (string, error) {
	if data == nil {
		data = ir.IRObject{}
	}
	out, err := ir.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(out), nil
}

// unmarshalData parses stored audit data back into an IRObject.
func unmarshalData(s string) (ir.IRObject, error) {
	obj, err := ir.ParseObject([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}
