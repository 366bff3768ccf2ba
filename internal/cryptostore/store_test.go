package cryptostore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := New(key)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	tests := []string{"Ana", "V-12345678", "dolor abdominal 🩺", " leading and trailing "}
	for _, plaintext := range tests {
		t.Run(plaintext, func(t *testing.T) {
			ct, err := s.EncryptString(plaintext)
			require.NoError(t, err)
			assert.NotContains(t, string(ct), plaintext)

			f := s.Decrypt(ct)
			assert.True(t, f.Valid())
			assert.Equal(t, plaintext, f.Value)
			assert.Equal(t, plaintext, f.String())
		})
	}
}

func TestEncrypt_NilAndEmpty(t *testing.T) {
	s := newTestStore(t)

	ct, err := s.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, ct)

	ct, err = s.EncryptString("")
	require.NoError(t, err)
	assert.Nil(t, ct)

	f := s.Decrypt(nil)
	assert.True(t, f.IsNull())
	assert.Equal(t, "", f.String())
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	s := newTestStore(t)
	a, err := s.EncryptString("same")
	require.NoError(t, err)
	b, err := s.EncryptString("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	s := newTestStore(t)
	ct, err := s.EncryptString("Ana Ruiz")
	require.NoError(t, err)

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x01
		f := s.Decrypt(tampered)
		require.True(t, f.Corrupt(), "byte %d", i)
		assert.ErrorIs(t, f.Err, ErrIntegrity)
		assert.Equal(t, DecryptionErrorText, f.String())
	}
}

func TestDecrypt_ForeignKey(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	ct, err := a.EncryptString("secret")
	require.NoError(t, err)

	f := b.Decrypt(ct)
	assert.True(t, f.Corrupt())
	assert.ErrorIs(t, f.Err, ErrIntegrity)
}

func TestDecrypt_Malformed(t *testing.T) {
	s := newTestStore(t)
	f := s.Decrypt([]byte{1, 2, 3})
	assert.True(t, f.Corrupt())
	assert.ErrorIs(t, f.Err, ErrMalformed)
	assert.Equal(t, InvalidDataText, f.String())
}

func TestField_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"valid", Text("Ana"), `"Ana"`},
		{"null", Field{}, `null`},
		{"integrity", Field{State: Corrupt, Err: ErrIntegrity}, `{"error":"decryption_error"}`},
		{"malformed", Field{State: Corrupt, Err: ErrMalformed}, `{"error":"invalid_data"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.field)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestBlindIndex(t *testing.T) {
	s := newTestStore(t)
	other := newTestStore(t)

	assert.Equal(t, s.BlindIndex("v-123"), s.BlindIndex(" V-123 "))
	assert.NotEqual(t, s.BlindIndex("V-123"), s.BlindIndex("V-124"))
	assert.NotEqual(t, s.BlindIndex("V-123"), other.BlindIndex("V-123"))
	assert.Empty(t, s.BlindIndex("  "))
}

func TestCanary(t *testing.T) {
	s := newTestStore(t)
	canary, err := s.Canary()
	require.NoError(t, err)
	assert.NoError(t, s.VerifyCanary(canary))

	other := newTestStore(t)
	assert.ErrorIs(t, other.VerifyCanary(canary), ErrKeyMismatch)
	assert.ErrorIs(t, s.VerifyCanary(nil), ErrCanaryMissing)
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "store.key")

	t.Run("refuses to create for populated store", func(t *testing.T) {
		_, err := LoadOrCreateKey(path, false)
		assert.ErrorIs(t, err, ErrKeyMissing)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("creates for empty store then reloads", func(t *testing.T) {
		key, err := LoadOrCreateKey(path, true)
		require.NoError(t, err)
		assert.Len(t, key, KeySize)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		again, err := LoadOrCreateKey(path, false)
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})

	t.Run("rejects corrupt key file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.key")
		require.NoError(t, os.WriteFile(bad, []byte("not base64!"), 0o600))
		_, err := LoadOrCreateKey(bad, true)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
