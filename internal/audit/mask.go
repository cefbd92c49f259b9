package audit

import (
	"regexp"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/docstate/internal/ir"
)

// maskPattern replaces matches of one kind of PII.
type maskPattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Order matters: card and SSN run before phone so their digits are not
// claimed by the looser phone pattern.
var defaultMaskPatterns = []maskPattern{
	{
		name:        "email",
		re:          regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		replacement: "[EMAIL]",
	},
	{
		name:        "card",
		re:          regexp.MustCompile(`\b(?:\d{4}[\s\-]?){3}\d{4}\b`),
		replacement: "[CARD]",
	},
	{
		name:        "ssn",
		re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		replacement: "[SSN]",
	},
	{
		name:        "phone",
		re:          regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.\-]?)\d{3}[\s.\-]?\d{4}\b`),
		replacement: "[PHONE]",
	},
}

// MaskString normalizes s to NFC and replaces emails, card numbers, national
// IDs and phone numbers.
func MaskString(s string) string {
	s = norm.NFC.String(s)
	for _, p := range defaultMaskPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Mask returns a copy of obj with every string leaf masked. Keys are kept.
func Mask(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return nil
	}
	return maskValue(obj).(ir.IRObject)
}

func maskValue(v ir.IRValue) ir.IRValue {
	switch val := v.(type) {
	case ir.IRString:
		return ir.IRString(MaskString(string(val)))
	case ir.IRArray:
		out := make(ir.IRArray, len(val))
		for i, e := range val {
			out[i] = maskValue(e)
		}
		return out
	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, e := range val {
			out[k] = maskValue(e)
		}
		return out
	default:
		return v
	}
}
