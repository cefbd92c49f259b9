package state

import "github.com/roach88/docstate/internal/ir"

// Selector projects a slice of the state tree.
//
// Key identifies the selector in the result cache. Two selectors with the
// same Key must compute the same result. An empty Key disables caching for
// that selector. Fn must be pure and must not call back into the store.
type Selector struct {
	Key string
	Fn  func(ir.IRObject) ir.IRValue
}

// Path selects the value at a dot path. A missing path selects nil.
func Path(path string) Selector {
	return Selector{
		Key: "path:" + path,
		Fn: func(root ir.IRObject) ir.IRValue {
			v, ok := ir.Lookup(root, path)
			if !ok {
				return nil
			}
			return v
		},
	}
}

// EqualityFunc decides whether a subscriber's selected value changed.
type EqualityFunc func(prev, next ir.IRValue) bool

// ShallowEqual is the default comparator. Objects are equal when they have
// the same keys and each top-level value is structurally equal; anything
// else is compared with ir.Equal.
func ShallowEqual(prev, next ir.IRValue) bool {
	a, aok := prev.(ir.IRObject)
	b, bok := next.(ir.IRObject)
	if !aok || !bok {
		return ir.Equal(prev, next)
	}
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ir.Equal(av, bv) {
			return false
		}
	}
	return true
}

func (sel *Selector) apply(root ir.IRObject) ir.IRValue {
	if sel == nil || sel.Fn == nil {
		return root
	}
	return sel.Fn(root)
}
