package state

import (
	"fmt"
	"math"

	"github.com/roach88/docstate/internal/ir"
)

// validatePartial rejects nil partials, empty keys and undefined (nil)
// values anywhere in the tree.
func validatePartial(partial ir.IRObject) error {
	if partial == nil {
		return &ValidationError{Message: "partial is nil"}
	}
	return validateObject(partial, "")
}

func validateObject(obj ir.IRObject, prefix string) error {
	for _, k := range obj.SortedKeys() {
		path := ir.JoinPath(prefix, k)
		if k == "" {
			return &ValidationError{Path: prefix, Message: "empty key"}
		}
		if err := validateValue(obj[k], path); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(v ir.IRValue, path string) error {
	switch val := v.(type) {
	case nil:
		return &ValidationError{Path: path, Message: "undefined value"}
	case ir.IRFloat:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return &ValidationError{Path: path, Message: "non-finite number"}
		}
	case ir.IRObject:
		return validateObject(val, path)
	case ir.IRArray:
		for i, e := range val {
			if err := validateValue(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
