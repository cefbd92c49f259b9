package seal

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstate/internal/ir"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Iterations = 1000
	return opts
}

func newTestSealer(t *testing.T, paths ...string) *Sealer {
	t.Helper()
	ctx, err := DeriveKey("correct horse", testOptions())
	require.NoError(t, err)
	s := NewSealer(paths)
	s.SetContext(ctx)
	return s
}

// reachable reports whether needle appears anywhere in the tree's leaves.
func reachable(v ir.IRValue, needle string) bool {
	switch val := v.(type) {
	case ir.IRString:
		return strings.Contains(string(val), needle)
	case ir.IRArray:
		for _, e := range val {
			if reachable(e, needle) {
				return true
			}
		}
	case ir.IRObject:
		for _, e := range val {
			if reachable(e, needle) {
				return true
			}
		}
	}
	return false
}

func TestDeriveKey_GeneratesPassphraseWhenEmpty(t *testing.T) {
	ctx, err := DeriveKey("", testOptions())
	require.NoError(t, err)

	p := ctx.Params()
	assert.NotEmpty(t, p.Passphrase)
	assert.Equal(t, AlgorithmAESGCM, p.Algorithm)
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	require.NoError(t, err)
	assert.Len(t, salt, 16)
}

func TestDeriveKey_SuppliedPassphraseNotPersisted(t *testing.T) {
	ctx, err := DeriveKey("secret", testOptions())
	require.NoError(t, err)
	assert.Empty(t, ctx.Params().Passphrase)
}

func TestDeriveKey_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"key size", func(o *Options) { o.KeySize = 20 }},
		{"algorithm", func(o *Options) { o.Algorithm = "DES" }},
		{"salt", func(o *Options) { o.SaltLength = 4 }},
		{"iterations", func(o *Options) { o.Iterations = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := DeriveKey("x", opts)
			require.Error(t, err)
			assert.True(t, IsCryptoError(err))
		})
	}
}

func TestRestore_ReproducesKey(t *testing.T) {
	for _, pass := range []string{"", "hunter2"} {
		ctx, err := DeriveKey(pass, testOptions())
		require.NoError(t, err)

		ct, err := ctx.Seal("user.email", []byte(`"a@b.c"`))
		require.NoError(t, err)

		restored, err := Restore(ctx.Params(), pass)
		require.NoError(t, err)
		plain, err := restored.Open("user.email", ct)
		require.NoError(t, err)
		assert.Equal(t, `"a@b.c"`, string(plain))
	}
}

func TestOpen_WrongKeyOrPathFails(t *testing.T) {
	a, err := DeriveKey("one", testOptions())
	require.NoError(t, err)
	b, err := DeriveKey("two", testOptions())
	require.NoError(t, err)

	ct, err := a.Seal("secret.token", []byte(`1`))
	require.NoError(t, err)

	_, err = b.Open("secret.token", ct)
	require.Error(t, err)
	assert.True(t, IsCryptoError(err))

	_, err = a.Open("secret.other", ct)
	require.Error(t, err)

	_, err = a.Open("secret.token", "not base64!")
	require.Error(t, err)

	_, err = a.Open("secret.token", base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestEncryptTree_RemovesPlaintext(t *testing.T) {
	s := newTestSealer(t, "secret.token")
	tree := ir.Obj(
		ir.O("secret", ir.Obj(ir.O("token", ir.IRString("abc123")))),
		ir.O("visible", ir.IRInt(1)),
	)

	enc, err := s.EncryptTree(tree)
	require.NoError(t, err)

	assert.False(t, reachable(enc, "abc123"))
	_, ok := ir.Lookup(enc, "secret.token")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
	for _, e := range s.Entries() {
		assert.NotContains(t, e[1], "abc123")
	}

	// input untouched
	v, ok := ir.Lookup(tree, "secret.token")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("abc123"), v)

	dec, err := s.DecryptTree(enc)
	require.NoError(t, err)
	if diff := cmp.Diff(tree, dec); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncryptTree_NoMatchesReturnsInput(t *testing.T) {
	s := NewSealer([]string{"user.email"})
	tree := ir.Obj(ir.O("a", ir.IRInt(1)))

	out, err := s.EncryptTree(tree)
	require.NoError(t, err)
	assert.Equal(t, tree, out)
}

func TestEncryptTree_NoKey(t *testing.T) {
	s := NewSealer([]string{"user.email"})
	_, err := s.EncryptTree(ir.Obj(ir.O("user", ir.Obj(ir.O("email", ir.IRString("x"))))))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestDecryptTree_CreatesIntermediates(t *testing.T) {
	s := newTestSealer(t, "backend.apiKeys")
	keys := ir.Arr(ir.IRString("k1"), ir.Obj(ir.O("n", ir.IRInt(2))), ir.IRNull{})
	enc, err := s.EncryptTree(ir.Obj(ir.O("backend", ir.Obj(ir.O("apiKeys", keys)))))
	require.NoError(t, err)

	dec, err := s.DecryptTree(ir.IRObject{})
	require.NoError(t, err)
	v, ok := ir.Lookup(dec, "backend.apiKeys")
	require.True(t, ok)
	assert.True(t, ir.Equal(keys, v))
	assert.Equal(t, ir.IRObject{}, enc["backend"])
}

func TestDecryptTree_FailureLeavesStateIntact(t *testing.T) {
	s := newTestSealer(t, "secret.token")
	enc, err := s.EncryptTree(ir.Obj(ir.O("secret", ir.Obj(ir.O("token", ir.IRString("abc"))))))
	require.NoError(t, err)
	before := s.Entries()

	other, err := DeriveKey("rotated", testOptions())
	require.NoError(t, err)
	s.SetContext(other)

	_, err = s.DecryptTree(enc)
	require.Error(t, err)
	var ce *CryptoError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "decrypt", ce.Op)
	assert.Equal(t, "secret.token", ce.Path)
	assert.Equal(t, before, s.Entries())
	assert.Equal(t, ir.IRObject{}, enc["secret"])
}

func TestForget(t *testing.T) {
	s := NewSealer(nil)
	s.LoadEntries([][2]string{{"user.email", "a"}, {"username", "b"}, {"user", "c"}})

	s.Forget("user")

	assert.Equal(t, [][2]string{{"username", "b"}}, s.Entries())
}

func TestCryptoRoundTripProperty(t *testing.T) {
	s := newTestSealer(t, "secret.token", "user.profile.ssn")

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("decrypt(encrypt(x)) == x", prop.ForAll(
		func(token string, ssn int64, flag bool) bool {
			tree := ir.Obj(
				ir.O("secret", ir.Obj(ir.O("token", ir.IRString(token)))),
				ir.O("user", ir.Obj(ir.O("profile", ir.Obj(
					ir.O("ssn", ir.Arr(ir.IRInt(ssn), ir.IRBool(flag))),
				)))),
			)
			enc, err := s.EncryptTree(tree)
			if err != nil {
				return false
			}
			if _, ok := ir.Lookup(enc, "secret.token"); ok {
				return false
			}
			dec, err := s.DecryptTree(enc)
			return err == nil && ir.Equal(tree, dec)
		},
		gen.Identifier(),
		gen.Int64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestRedacted(t *testing.T) {
	s := NewSealer([]string{"user.email"})
	tree := ir.Obj(ir.O("user", ir.Obj(ir.O("email", ir.IRString("a@b.c")), ir.O("name", ir.IRString("ann")))))

	out := s.Redacted(tree)

	v, _ := ir.Lookup(out, "user.email")
	assert.Equal(t, ir.IRString(RedactedMarker), v)
	v, _ = ir.Lookup(out, "user.name")
	assert.Equal(t, ir.IRString("ann"), v)
	v, _ = ir.Lookup(tree, "user.email")
	assert.Equal(t, ir.IRString("a@b.c"), v, "input untouched")
}
