package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// AuthorityKey is the backend signing identity for claim authorizations.
type AuthorityKey struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// Load resolves the authority key from a raw hex key or, failing that, from
// a BIP-39 mnemonic at the standard ethereum path m/44'/60'/0'/0/0.
func Load(privHex, mnemonic string) (*AuthorityKey, error) {
	if privHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid authority private key: %w", err)
		}
		return &AuthorityKey{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
	}
	if mnemonic != "" {
		return FromMnemonic(mnemonic)
	}
	return nil, errors.New("no authority key configured")
}

// FromMnemonic derives the authority key from a BIP-39 mnemonic via the
// BIP-44 ethereum path.
func FromMnemonic(mnemonic string) (*AuthorityKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	// m/44'/60'/0'/0/0
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
	child := masterKey
	for _, index := range path {
		child, err = child.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", index, err)
		}
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	key := priv.ToECDSA()
	return &AuthorityKey{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}
