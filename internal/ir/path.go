package ir

import "strings"

// SplitPath splits a dot-delimited path ("backend.apiKeys") into segments.
// An empty path yields no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath appends a key to a dot path.
func JoinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Lookup returns the value at path, walking only through objects.
// The second result is false if any segment is missing or a non-object sits
// in the middle of the path.
func Lookup(root IRObject, path string) (IRValue, bool) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return root, true
	}
	var cur IRValue = root
	for _, seg := range segs {
		obj, ok := cur.(IRObject)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value at path in place, creating missing intermediate
// objects. A non-object found mid-path is replaced by a new object.
// Objects along the path are copied before being written so that subtrees
// shared with other trees are never mutated.
func SetPath(root IRObject, path string, value IRValue) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(IRObject)
		if !ok {
			next = IRObject{}
		} else {
			next = shallowCopy(next)
		}
		cur[seg] = next
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// DeletePath removes the key at path in place, copying parents on the way
// down like SetPath. Missing paths are a no-op.
func DeletePath(root IRObject, path string) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(IRObject)
		if !ok {
			return
		}
		next = shallowCopy(next)
		cur[seg] = next
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}

// Walk visits every object property in depth-first order with its dot path.
// Returning false from fn skips the children of that property.
// Array elements are not addressed by path.
func Walk(root IRObject, fn func(path string, value IRValue) bool) {
	walk(root, "", fn)
}

func walk(obj IRObject, prefix string, fn func(string, IRValue) bool) {
	for _, k := range obj.SortedKeys() {
		p := JoinPath(prefix, k)
		v := obj[k]
		if !fn(p, v) {
			continue
		}
		if child, ok := v.(IRObject); ok {
			walk(child, p, fn)
		}
	}
}

func shallowCopy(obj IRObject) IRObject {
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
