package handler

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyWalletSignature checks that a personal-sign signature over message
// was produced by wallet. The message must reference the wallet it claims to
// authenticate so a captured signature cannot vouch for a different address.
func VerifyWalletSignature(wallet, message, sigHex string) error {
	if !strings.Contains(strings.ToLower(message), strings.ToLower(wallet)) {
		return errors.New("message does not reference wallet")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), cp)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), wallet) {
		return errors.New("signature does not match wallet")
	}
	return nil
}
