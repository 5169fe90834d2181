package handler

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPersonal(t *testing.T, keyHex, message string) (wallet, sigHex string) {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

const authTestKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestVerifyWalletSignature(t *testing.T) {
	key, err := crypto.HexToECDSA(authTestKey)
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message := fmt.Sprintf("Sign this claim request for %s", wallet)

	_, sigHex := signPersonal(t, authTestKey, message)
	assert.NoError(t, VerifyWalletSignature(wallet, message, sigHex))
}

func TestVerifyWalletSignatureWrongWallet(t *testing.T) {
	other := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	message := fmt.Sprintf("Sign this claim request for %s", other)

	_, sigHex := signPersonal(t, authTestKey, message)
	assert.Error(t, VerifyWalletSignature(other, message, sigHex), "signature from a different key must not verify")
}

func TestVerifyWalletSignatureMessageMustNameWallet(t *testing.T) {
	message := "Sign this claim request"
	wallet, sigHex := signPersonal(t, authTestKey, message)
	assert.Error(t, VerifyWalletSignature(wallet, message, sigHex))
}

func TestVerifyWalletSignatureMalformed(t *testing.T) {
	wallet := "0x976EA74026E726554dB657fA54763abd0C3a0aa9"
	assert.Error(t, VerifyWalletSignature(wallet, "hello "+wallet, "0xzz"))
	assert.Error(t, VerifyWalletSignature(wallet, "hello "+wallet, "0xdeadbeef"))
}
