package utils

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func withTestKey(t *testing.T) {
	t.Helper()
	require.NoError(t, SetEncryptionKey(testKey))
	t.Cleanup(ResetEncryptionKey)
}

func TestEncryptDecrypt(t *testing.T) {
	withTestKey(t)

	original := "test-access-token-12345"

	encrypted, err := Encrypt(original)
	require.NoError(t, err)
	require.NotEqual(t, original, encrypted)

	decrypted, err := Decrypt(encrypted)
	require.NoError(t, err)
	require.Equal(t, original, decrypted)
}

func TestEncryptProducesDifferentCiphertext(t *testing.T) {
	withTestKey(t)

	encrypted1, err := Encrypt("same-text")
	require.NoError(t, err)
	encrypted2, err := Encrypt("same-text")
	require.NoError(t, err)

	require.NotEqual(t, encrypted1, encrypted2, "random nonce should change the ciphertext")
}

func TestEncryptRoundTripVariousInputs(t *testing.T) {
	withTestKey(t)

	inputs := []string{
		"",
		"a",
		"this-is-a-very-long-string-that-should-still-encrypt-correctly-and-decrypt-properly-without-any-issues",
		"한국어 토큰 값",
		"line\nbreak\x00null",
	}
	for _, in := range inputs {
		enc, err := Encrypt(in)
		require.NoError(t, err)
		dec, err := Decrypt(enc)
		require.NoError(t, err)
		require.Equal(t, in, dec)
	}
}

func TestDecryptRejectsEverySingleByteCorruption(t *testing.T) {
	withTestKey(t)

	enc, err := Encrypt("refresh-token-value")
	require.NoError(t, err)
	raw, err := hex.DecodeString(enc)
	require.NoError(t, err)

	for i := range raw {
		corrupted := append([]byte(nil), raw...)
		corrupted[i] ^= 0x01
		_, err := Decrypt(hex.EncodeToString(corrupted))
		require.Error(t, err, "byte %d", i)
		require.True(t, errors.Is(err, ErrCiphertextIntegrity))
	}
}

func TestDecryptInvalidData(t *testing.T) {
	withTestKey(t)

	_, err := Decrypt("invalid-hex-data")
	require.ErrorIs(t, err, ErrCiphertextIntegrity)

	_, err = Decrypt("abcd")
	require.ErrorIs(t, err, ErrCiphertextIntegrity)
}

func TestMissingKeyFailsAtCallTime(t *testing.T) {
	ResetEncryptionKey()
	t.Setenv("ENCRYPTION_KEY", "")
	t.Cleanup(ResetEncryptionKey)

	_, err := Encrypt("x")
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)
}

func TestWrongSizeKeyRejected(t *testing.T) {
	ResetEncryptionKey()
	t.Setenv("ENCRYPTION_KEY", "short")
	t.Cleanup(ResetEncryptionKey)

	_, err := Decrypt("00")
	require.ErrorIs(t, err, ErrEncryptionKeyInvalid)
	require.ErrorIs(t, SetEncryptionKey("also-too-short"), ErrEncryptionKeyInvalid)
}

func TestHexKeyAccepted(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	require.Len(t, key, 64)
	require.NoError(t, SetEncryptionKey(key))
	t.Cleanup(ResetEncryptionKey)

	enc, err := Encrypt("hello")
	require.NoError(t, err)
	dec, err := Decrypt(enc)
	require.NoError(t, err)
	require.Equal(t, "hello", dec)
}
