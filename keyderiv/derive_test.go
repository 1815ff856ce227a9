package keyderiv

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/eth"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 5869, appendix A.1. HKDF-Expand output blocks do not depend on the
// requested length, so the first 42 bytes of a longer read must match.
func TestExpandRFC5869Vector(t *testing.T) {
	ikm := mustHex(t, "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt := mustHex(t, "000102030405060708090a0b0c")
	info := mustHex(t, "f0f1f2f3f4f5f6f7f8f9")
	want := "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865"

	out, err := expand(ikm, salt, info, 2*SeedLength)
	require.NoError(t, err)
	assert.Equal(t, want, hex.EncodeToString(out[:42]))
}

// RFC 7748, section 6.1.
func TestEncryptionKeyPairRFC7748Vector(t *testing.T) {
	kp, err := encryptionKeyPair(mustHex(t, "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"))
	require.NoError(t, err)
	assert.Equal(t, "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a", hex.EncodeToString(kp.PublicKey))

	kp, err = encryptionKeyPair(mustHex(t, "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb"))
	require.NoError(t, err)
	assert.Equal(t, "de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f", hex.EncodeToString(kp.PublicKey))
}

// RFC 8032, section 7.1, test 1.
func TestSigningKeyPairRFC8032Vector(t *testing.T) {
	seed := mustHex(t, "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	kp := signingKeyPair(seed)
	assert.Equal(t, "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a", hex.EncodeToString(kp.PublicKey))
	assert.Equal(t, seed, kp.PrivateKey[:32])
	assert.Len(t, kp.PrivateKey, ed25519.PrivateKeySize)
}

func TestDeriveKeysComposesStages(t *testing.T) {
	secret := []byte("wallet signature bytes")
	salt := []byte("salt")
	info := []byte("info")

	stream, err := expand(secret, salt, info, 2*SeedLength)
	require.NoError(t, err)
	wantEnc, err := encryptionKeyPair(stream[:SeedLength])
	require.NoError(t, err)
	wantSig := signingKeyPair(stream[SeedLength:])

	id, err := DeriveKeys(secret, salt, info)
	require.NoError(t, err)
	assert.Equal(t, wantEnc, id.EncryptionKeyPair)
	assert.Equal(t, wantSig, id.SigningKeyPair)
}

func TestDeriveKeysIsDeterministic(t *testing.T) {
	secret := []byte("0xdeadbeef")

	a, err := DeriveKeys(secret, []byte(IdentitySalt), []byte(IdentityInfo))
	require.NoError(t, err)
	b, err := DeriveKeys(secret, []byte(IdentitySalt), []byte(IdentityInfo))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Len(t, a.EncryptionKeyPair.PublicKey, 32)
	assert.Len(t, a.EncryptionKeyPair.PrivateKey, 32)
	assert.Len(t, a.SigningKeyPair.PublicKey, ed25519.PublicKeySize)
	assert.NotEqual(t, a.EncryptionKeyPair.PrivateKey, a.SigningKeyPair.PrivateKey[:32])
}

func TestDeriveKeysDependsOnEveryInput(t *testing.T) {
	base, err := DeriveKeys([]byte("secret"), []byte("salt"), []byte("info"))
	require.NoError(t, err)

	otherSecret, err := DeriveKeys([]byte("secret2"), []byte("salt"), []byte("info"))
	require.NoError(t, err)
	otherSalt, err := DeriveKeys([]byte("secret"), []byte("salt2"), []byte("info"))
	require.NoError(t, err)
	otherInfo, err := DeriveKeys([]byte("secret"), []byte("salt"), []byte("info2"))
	require.NoError(t, err)

	for _, other := range []*core.Identity{otherSecret, otherSalt, otherInfo} {
		assert.NotEqual(t, base.EncryptionKeyPair.PublicKey, other.EncryptionKeyPair.PublicKey)
		assert.NotEqual(t, base.SigningKeyPair.PublicKey, other.SigningKeyPair.PublicKey)
	}
}

func TestDeriveKeysRejectsEmptySecret(t *testing.T) {
	_, err := DeriveKeys(nil, []byte("salt"), []byte("info"))
	assert.ErrorIs(t, err, core.ErrDerivationFailure)
}

func TestDeriveIdentityFromWalletSignature(t *testing.T) {
	w, err := eth.NewKeyWalletFromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	sig, err := w.SignMessage(context.Background(), "c1")
	require.NoError(t, err)

	first, err := DeriveIdentity(sig)
	require.NoError(t, err)
	second, err := DeriveIdentity(sig)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := w.SignMessage(context.Background(), "c2")
	require.NoError(t, err)
	third, err := DeriveIdentity(other)
	require.NoError(t, err)
	assert.NotEqual(t, first.SigningKeyPair.PublicKey, third.SigningKeyPair.PublicKey)
}

func TestDeriveIdentityCanonicalisesSignatureForms(t *testing.T) {
	w, err := eth.GenerateKeyWallet()
	require.NoError(t, err)
	sigHex, err := w.SignMessage(context.Background(), "challenge")
	require.NoError(t, err)

	full, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	want, err := DeriveIdentity(sigHex)
	require.NoError(t, err)

	// Recovery id as 0/1 instead of 27/28.
	raw := append([]byte(nil), full...)
	raw[64] -= 27
	got, err := DeriveIdentity(hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// EIP-2098 compact form.
	compact := append([]byte(nil), full[:64]...)
	compact[32] |= (full[64] - 27) << 7
	got, err = DeriveIdentity(hexutil.Encode(compact))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Hex without the 0x prefix.
	got, err = DeriveIdentity(hex.EncodeToString(full))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeriveIdentityRejectsMalformedSignatures(t *testing.T) {
	tests := []struct {
		name string
		sig  string
	}{
		{"empty", ""},
		{"not hex", "0xzz"},
		{"odd length", "0xabc"},
		{"too short", "0x" + hex.EncodeToString(make([]byte, 32))},
		{"too long", "0x" + hex.EncodeToString(make([]byte, 66))},
		{"bad recovery id", "0x" + hex.EncodeToString(append(make([]byte, 64), 5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveIdentity(tt.sig)
			assert.ErrorIs(t, err, core.ErrDerivationFailure)
		})
	}
}

func TestDeriveStorageKey(t *testing.T) {
	a, err := DeriveStorageKey("password", "0xABCDEF0000000000000000000000000000000001")
	require.NoError(t, err)
	b, err := DeriveStorageKey("password", "0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, a, b, "address case must not matter")

	c, err := DeriveStorageKey("other", "0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := DeriveStorageKey("password", "0xabcdef0000000000000000000000000000000002")
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}
