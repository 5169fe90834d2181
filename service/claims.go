package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// Typed-data hashing, domain separated so a signed claim binds to this
// application, chain and settlement contract and nothing else.
var (
	eip712DomainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	claimTypeHash        = crypto.Keccak256([]byte("Claim(address wallet,uint256 amount,uint256 nonce,uint256 deadline)"))
	domainName           = crypto.Keccak256([]byte("AbyssMine"))
	domainVersion        = crypto.Keccak256([]byte("1"))
)

func domainSeparator(chainID int64, contract common.Address) []byte {
	return crypto.Keccak256(
		eip712DomainTypeHash,
		domainName,
		domainVersion,
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(contract.Bytes(), 32),
	)
}

// ClaimDigest computes the 32-byte digest the authority key signs:
// keccak256(0x1901 || domainSeparator || structHash).
func ClaimDigest(chainID int64, contract, wallet common.Address, amount *big.Int, nonce uint64, deadline int64) []byte {
	structHash := crypto.Keccak256(
		claimTypeHash,
		common.LeftPadBytes(wallet.Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(deadline).Bytes(), 32),
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator(chainID, contract), structHash)
}

// RecoverClaimSigner returns the address that produced a claim signature.
// Tampering with any payload field yields a different recovered address.
func RecoverClaimSigner(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignedClaim is the signing service's response.
type SignedClaim struct {
	Wallet     string
	Amount     string
	Nonce      uint64
	Deadline   int64
	Signature  string
	IsExisting bool
}

// ClaimService reserves a nonce slot atomically and issues one signed
// authorization per slot. Duplicate requests echo the stored signature.
type ClaimService struct {
	db      *gorm.DB
	claims  *repository.ClaimRepository
	players *repository.PlayerRepository
	oracle  NonceOracle

	key      *ecdsa.PrivateKey
	chainID  int64
	contract common.Address
	ttl      time.Duration

	walletLocks *keyedLocks
	log         *logrus.Logger
}

func NewClaimService(db *gorm.DB, claims *repository.ClaimRepository, players *repository.PlayerRepository,
	oracle NonceOracle, key *ecdsa.PrivateKey, chainID int64, contract common.Address,
	ttl time.Duration, log *logrus.Logger) *ClaimService {
	return &ClaimService{
		db:          db,
		claims:      claims,
		players:     players,
		oracle:      oracle,
		key:         key,
		chainID:     chainID,
		contract:    contract,
		ttl:         ttl,
		walletLocks: newKeyedLocks(),
		log:         log,
	}
}

// AuthorityAddress is the address claim verifiers must compare against.
func (s *ClaimService) AuthorityAddress() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignClaim issues (or echoes) the signed authorization for a wallet's
// current nonce slot.
func (s *ClaimService) SignClaim(ctx context.Context, wallet, requestedAmount string) (*SignedClaim, error) {
	amount, ok := new(big.Int).SetString(requestedAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, errValidation(CodeAmountMismatch, fmt.Errorf("invalid amount %q", requestedAmount))
	}

	player, err := s.players.FindByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errValidation(CodeInsufficientBalance, ErrInsufficientBalance)
		}
		return nil, errInternal(fmt.Errorf("lookup player: %w", err))
	}
	balance, ok := new(big.Int).SetString(player.TokenBalance, 10)
	if !ok {
		balance = big.NewInt(0)
	}
	if balance.Cmp(amount) < 0 {
		return nil, errValidation(CodeInsufficientBalance, ErrInsufficientBalance)
	}

	release := s.walletLocks.Acquire(wallet)
	defer release()

	// The nonce is a read-only oracle, fetched fresh for every request.
	nonce, err := s.oracle.CurrentNonce(ctx, wallet)
	if err != nil {
		return nil, errInternal(fmt.Errorf("fetch nonce: %w", err))
	}

	now := time.Now()
	deadline := now.Add(s.ttl).Unix()
	row := model.ClaimSignature{
		Wallet:    wallet,
		Nonce:     nonce,
		Amount:    amount.String(),
		Status:    model.ClaimPending,
		Deadline:  deadline,
		ExpiresAt: now.Add(s.ttl),
	}

	slot, err := s.claims.FindSlot(ctx, wallet, nonce)
	switch {
	case err == nil && slot.Status == model.ClaimSigned:
		return s.echo(slot)
	case err == nil && slot.Status == model.ClaimPending:
		// A pending row with the wallet lock held here means its writer
		// died between reserving and signing. Take the reservation over
		// rather than wedging the slot until the TTL sweep.
		row.ID = slot.ID
		row.CreatedAt = slot.CreatedAt
	case err == nil && slot.Status == model.ClaimClaimed:
		// the oracle should already have advanced past a settled slot
		return nil, errContention(CodeNonceConflict, errors.New("nonce slot already consumed"))
	case err == nil && slot.Status == model.ClaimExpired:
		// Re-reserve the freed slot in place; the status guard leaves
		// exactly one winner if two requests race here.
		ok, rerr := s.claims.Rereserve(ctx, slot.ID, row.Amount, deadline, row.ExpiresAt)
		if rerr != nil {
			return nil, errInternal(fmt.Errorf("re-reserve nonce: %w", rerr))
		}
		if !ok {
			return nil, errContention(CodeNonceConflict, errors.New("nonce slot re-reserved concurrently"))
		}
		row.ID = slot.ID
		row.CreatedAt = slot.CreatedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		if cerr := s.claims.Create(ctx, &row); cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				// Someone else reserved the slot between lookup and insert.
				// Return their signature rather than erroring.
				existing, ferr := s.claims.FindActive(ctx, wallet, nonce)
				if ferr != nil {
					return nil, errContention(CodeNonceConflict, fmt.Errorf("slot reserved concurrently: %w", ferr))
				}
				return s.echo(existing)
			}
			return nil, errInternal(fmt.Errorf("reserve nonce: %w", cerr))
		}
	default:
		return nil, errInternal(fmt.Errorf("lookup claim slot: %w", err))
	}

	digest := ClaimDigest(s.chainID, s.contract, common.HexToAddress(wallet), amount, nonce, deadline)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, errInternal(fmt.Errorf("sign claim: %w", err))
	}
	sig[64] += 27

	signedAt := time.Now()
	row.Signature = "0x" + hex.EncodeToString(sig)
	row.Status = model.ClaimSigned
	row.SignedAt = &signedAt
	if err := s.claims.Save(ctx, &row); err != nil {
		return nil, errInternal(fmt.Errorf("store signature: %w", err))
	}

	s.log.WithFields(logrus.Fields{
		"wallet": wallet,
		"nonce":  nonce,
		"amount": amount.String(),
	}).Info("claim signed")

	return &SignedClaim{
		Wallet:    wallet,
		Amount:    row.Amount,
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: row.Signature,
	}, nil
}

// echo returns a previously issued signature unchanged. A pending row with
// no signature means another writer is mid-flight; the caller may retry.
func (s *ClaimService) echo(row *model.ClaimSignature) (*SignedClaim, error) {
	if row.Status != model.ClaimSigned || row.Signature == "" {
		return nil, errContention(CodeNonceConflict, errors.New("nonce slot reserved, signature not yet available"))
	}
	return &SignedClaim{
		Wallet:     row.Wallet,
		Amount:     row.Amount,
		Nonce:      row.Nonce,
		Deadline:   row.Deadline,
		Signature:  row.Signature,
		IsExisting: true,
	}, nil
}

// MarkClaimed records that the caller proved redemption of a signed slot.
func (s *ClaimService) MarkClaimed(ctx context.Context, wallet string, nonce uint64) error {
	row, err := s.claims.FindActive(ctx, wallet, nonce)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errAuthorization(CodeClaimExpired, ErrClaimNotFound)
		}
		return errInternal(err)
	}
	now := time.Now()
	row.Status = model.ClaimClaimed
	row.ClaimedAt = &now
	if err := s.claims.Save(ctx, row); err != nil {
		return errInternal(err)
	}
	return nil
}
