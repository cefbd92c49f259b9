package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
user: {
	name:   string
	email?: string
}
backend: {
	apiKeys: [...string]
	"rate-limit": int
}
count: int
`

func TestValidatePaths(t *testing.T) {
	schema, err := CompileSchema([]byte(testSchema), "state.cue")
	require.NoError(t, err)

	require.NoError(t, ValidatePaths(schema, []string{"user.email", "user.name", "backend.apiKeys", "backend.rate-limit"}))

	err = ValidatePaths(schema, []string{"user.emial", "count", "secret.token"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.emial")
	assert.Contains(t, err.Error(), "secret.token")
	assert.NotContains(t, err.Error(), "count")
}

func TestValidatePaths_Empty(t *testing.T) {
	schema, err := CompileSchema([]byte(testSchema), "state.cue")
	require.NoError(t, err)
	require.Error(t, ValidatePaths(schema, []string{""}))
	require.NoError(t, ValidatePaths(schema, nil))
}

func TestCompileSchema_Error(t *testing.T) {
	_, err := CompileSchema([]byte("user: {"), "broken.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.cue")
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "state.cue", testSchema)

	good := writeFile(t, dir, "good.yaml", "name: app\nschema: state.cue\nsensitivePaths: [user.email]\n")
	cfg, err := CheckFile(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"user.email"}, cfg.SensitivePaths)

	bad := writeFile(t, dir, "bad.yaml", "name: app\nschema: state.cue\nsensitivePaths: [user.mail]\n")
	_, err = CheckFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.mail")

	noSchema := writeFile(t, dir, "plain.yaml", "name: app\nsensitivePaths: [anything.goes]\n")
	_, err = CheckFile(noSchema)
	require.NoError(t, err)
}
