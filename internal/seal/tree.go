package seal

import (
	"slices"
	"strings"

	"github.com/roach88/docstate/internal/ir"
)

// Sealer owns the sensitive path set and the encrypted field map for one
// store. It is not safe for concurrent use; the store serializes access.
type Sealer struct {
	ctx    *Context
	paths  map[string]struct{}
	fields map[string]string
}

// NewSealer creates a sealer for the given sensitive paths. The key is set
// later with SetContext, normally the first time encryption is enabled.
func NewSealer(paths []string) *Sealer {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return &Sealer{paths: set, fields: make(map[string]string)}
}

// SetContext installs the derived key.
func (s *Sealer) SetContext(ctx *Context) { s.ctx = ctx }

// Context returns the installed key, or nil.
func (s *Sealer) Context() *Context { return s.ctx }

// Paths returns the sensitive paths in sorted order.
func (s *Sealer) Paths() []string {
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Sensitive reports whether path is an exact sensitive path.
func (s *Sealer) Sensitive(path string) bool {
	_, ok := s.paths[path]
	return ok
}

// EncryptTree returns a copy of tree with every sensitive value removed and
// sealed into the field map. tree itself is not modified. On error the field
// map is left unchanged.
func (s *Sealer) EncryptTree(tree ir.IRObject) (ir.IRObject, error) {
	type hit struct {
		path  string
		value ir.IRValue
	}
	var hits []hit
	ir.Walk(tree, func(path string, v ir.IRValue) bool {
		if s.Sensitive(path) {
			hits = append(hits, hit{path, v})
			return false
		}
		return true
	})
	if len(hits) == 0 {
		return tree, nil
	}
	if s.ctx == nil {
		return nil, &CryptoError{Op: "encrypt", Err: ErrNoKey}
	}

	sealed := make(map[string]string, len(hits))
	for _, h := range hits {
		plain, err := ir.MarshalCanonical(h.value)
		if err != nil {
			return nil, &CryptoError{Op: "encrypt", Path: h.path, Err: err}
		}
		ct, err := s.ctx.Seal(h.path, plain)
		if err != nil {
			return nil, err
		}
		sealed[h.path] = ct
	}

	out := shallow(tree)
	for _, h := range hits {
		ir.DeletePath(out, h.path)
		s.fields[h.path] = sealed[h.path]
	}
	return out, nil
}

// DecryptTree returns a deep copy of tree with every sealed field put back,
// creating intermediate objects as needed. Neither tree nor the field map is
// modified, even on failure.
func (s *Sealer) DecryptTree(tree ir.IRObject) (ir.IRObject, error) {
	out := ir.CloneObject(tree)
	if len(s.fields) == 0 {
		return out, nil
	}
	if s.ctx == nil {
		return nil, &CryptoError{Op: "decrypt", Err: ErrNoKey}
	}
	for _, path := range s.sortedFieldPaths() {
		plain, err := s.ctx.Open(path, s.fields[path])
		if err != nil {
			return nil, err
		}
		v, err := ir.ParseJSON(plain)
		if err != nil {
			return nil, &CryptoError{Op: "decrypt", Path: path, Err: err}
		}
		ir.SetPath(out, path, v)
	}
	return out, nil
}

// Forget drops sealed fields at or below prefix. A shallow merge that
// replaces a top-level key also replaces everything sealed under it.
func (s *Sealer) Forget(prefix string) {
	for p := range s.fields {
		if p == prefix || strings.HasPrefix(p, prefix+".") {
			delete(s.fields, p)
		}
	}
}

// Clear empties the field map.
func (s *Sealer) Clear() {
	s.fields = make(map[string]string)
}

// Len returns the number of sealed fields.
func (s *Sealer) Len() int { return len(s.fields) }

// Entries returns the field map as sorted [path, ciphertext] pairs, the shape
// used in persisted snapshots.
func (s *Sealer) Entries() [][2]string {
	out := make([][2]string, 0, len(s.fields))
	for _, p := range s.sortedFieldPaths() {
		out = append(out, [2]string{p, s.fields[p]})
	}
	return out
}

// LoadEntries replaces the field map with persisted entries.
func (s *Sealer) LoadEntries(entries [][2]string) {
	s.fields = make(map[string]string, len(entries))
	for _, e := range entries {
		s.fields[e[0]] = e[1]
	}
}

func (s *Sealer) sortedFieldPaths() []string {
	out := make([]string, 0, len(s.fields))
	for p := range s.fields {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func shallow(obj ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// Redacted replaces the value at every sensitive path with a marker. It is
// used for audit records so plaintext secrets never reach the audit log.
func (s *Sealer) Redacted(tree ir.IRObject) ir.IRObject {
	var hits []string
	ir.Walk(tree, func(path string, _ ir.IRValue) bool {
		if s.Sensitive(path) {
			hits = append(hits, path)
			return false
		}
		return true
	})
	if len(hits) == 0 {
		return tree
	}
	out := shallow(tree)
	for _, p := range hits {
		ir.SetPath(out, p, ir.IRString(RedactedMarker))
	}
	return out
}

// RedactedMarker stands in for sensitive values in audit data.
const RedactedMarker = "[ENCRYPTED]"
