package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

// NonceOracle reports the settlement authority's current nonce for a wallet.
// Implementations must fetch fresh state on every call; callers never cache
// across requests.
type NonceOracle interface {
	CurrentNonce(ctx context.Context, wallet string) (uint64, error)
}

// minimal ABI for the settlement contract's per-wallet claim counter
const claimNonceABIJSON = `[{"inputs":[{"name":"wallet","type":"address"}],"name":"claimNonces","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// ChainNonceOracle reads claimNonces(wallet) from the settlement contract
// via eth_call.
type ChainNonceOracle struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
}

func NewChainNonceOracle(rpcURL string, contract common.Address) (*ChainNonceOracle, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(claimNonceABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &ChainNonceOracle{client: client, contract: contract, abi: parsed}, nil
}

func (o *ChainNonceOracle) CurrentNonce(ctx context.Context, wallet string) (uint64, error) {
	data, err := o.abi.Pack("claimNonces", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("pack call: %w", err)
	}
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("eth_call claimNonces: %w", err)
	}
	res, err := o.abi.Unpack("claimNonces", out)
	if err != nil {
		return 0, fmt.Errorf("unpack result: %w", err)
	}
	nonce, ok := res[0].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected claimNonces return type")
	}
	return nonce.Uint64(), nil
}

// LedgerNonceOracle approximates the settlement counter from the local
// ledger. Dev and test use only: the highest slot stays current until it is
// claimed, then the next slot opens.
type LedgerNonceOracle struct {
	db     *gorm.DB
	claims *repository.ClaimRepository
}

func NewLedgerNonceOracle(db *gorm.DB, claims *repository.ClaimRepository) *LedgerNonceOracle {
	return &LedgerNonceOracle{db: db, claims: claims}
}

func (o *LedgerNonceOracle) CurrentNonce(ctx context.Context, wallet string) (uint64, error) {
	var row model.ClaimSignature
	err := o.db.WithContext(ctx).
		Where("wallet = ?", wallet).
		Order("nonce desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	// A claimed slot is consumed; a live or expired one is still the current
	// slot (expired rows get re-reserved in place).
	if row.Status == model.ClaimClaimed {
		return row.Nonce + 1, nil
	}
	return row.Nonce, nil
}
