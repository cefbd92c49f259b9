package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/docstate/internal/ir"
)

// LoadSchema compiles a CUE file describing the state shape.
func LoadSchema(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("read schema: %w", err)
	}
	return CompileSchema(data, path)
}

// CompileSchema compiles CUE source. filename is used in error positions.
func CompileSchema(src []byte, filename string) (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile schema %s: %w", filename, err)
	}
	return v, nil
}

// ValidatePaths reports every sensitive path that the schema does not
// declare. Optional fields count as declared.
func ValidatePaths(schema cue.Value, paths []string) error {
	var missing []string
	for _, p := range paths {
		if !schemaHas(schema, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sensitive paths not in schema: %s", strings.Join(missing, ", "))
	}
	return nil
}

func schemaHas(schema cue.Value, path string) bool {
	segs := ir.SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	cur := schema
	for _, seg := range segs {
		next := cur.LookupPath(cue.MakePath(cue.Str(seg)))
		if !next.Exists() {
			next = cur.LookupPath(cue.MakePath(cue.Str(seg).Optional()))
		}
		if !next.Exists() {
			return false
		}
		cur = next
	}
	return true
}

// CheckFile loads the config at path and, when it names a schema, checks the
// sensitive paths against it.
func CheckFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if cfg.Schema == "" {
		return cfg, nil
	}
	schema, err := LoadSchema(cfg.Schema)
	if err != nil {
		return Config{}, err
	}
	if err := ValidatePaths(schema, cfg.SensitivePaths); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
