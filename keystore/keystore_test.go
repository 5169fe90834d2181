package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Standard BIP-39 test vector; never holds funds.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestFromMnemonicKnownVector(t *testing.T) {
	key, err := FromMnemonic(testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", key.Address.Hex())
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := FromMnemonic("definitely not twelve valid words")
	assert.Error(t, err)
}

func TestLoadPrefersHexKey(t *testing.T) {
	key, err := Load("0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291", testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, "0x976EA74026E726554dB657fA54763abd0C3a0aa9", key.Address.Hex())
}

func TestLoadFallsBackToMnemonic(t *testing.T) {
	key, err := Load("", testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", key.Address.Hex())
}

func TestLoadUnconfigured(t *testing.T) {
	_, err := Load("", "")
	assert.Error(t, err)
}
