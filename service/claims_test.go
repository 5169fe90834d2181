package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/abyssmine/abyss-backend/model"
	"github.com/abyssmine/abyss-backend/repository"
)

const (
	testChainID  = int64(31337)
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testKeyHex   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

type claimStack struct {
	db     *gorm.DB
	claims *repository.ClaimRepository
	svc    *ClaimService
}

func newClaimStack(t *testing.T, ttl time.Duration) *claimStack {
	t.Helper()
	db := newTestDB(t)
	claims := repository.NewClaimRepository(db)
	players := repository.NewPlayerRepository(db)
	oracle := NewLedgerNonceOracle(db, claims)
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	svc := NewClaimService(db, claims, players, oracle, key,
		testChainID, common.HexToAddress(testContract), ttl, testLogger())
	return &claimStack{db: db, claims: claims, svc: svc}
}

func fundPlayer(t *testing.T, db *gorm.DB, wallet, balance string) {
	t.Helper()
	require.NoError(t, db.Create(&model.Player{
		Wallet:        wallet,
		SubmarineTier: 1,
		TokenBalance:  balance,
	}).Error)
}

func TestSignClaimReplayReturnsIdenticalSignature(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	first, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)
	assert.False(t, first.IsExisting)
	require.NotEmpty(t, first.Signature)

	second, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)
	assert.True(t, second.IsExisting)
	assert.Equal(t, first.Signature, second.Signature, "replay must echo byte-identical signature")
	assert.Equal(t, first.Nonce, second.Nonce)
	assert.Equal(t, first.Amount, second.Amount)

	var count int64
	require.NoError(t, stack.db.Model(&model.ClaimSignature{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "no second row may ever be created for a slot")
}

func TestSignClaimInsufficientBalance(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "10")

	_, err := stack.svc.SignClaim(context.Background(), wallet, "1000")
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientBalance, CodeOf(err))
}

func TestSignClaimConcurrentRequestsShareOneSignature(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	const callers = 6
	signatures := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signed, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
			if err != nil {
				errs[i] = err
				return
			}
			signatures[i] = signed.Signature
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < callers; i++ {
		assert.Equal(t, signatures[0], signatures[i])
	}

	var count int64
	require.NoError(t, stack.db.Model(&model.ClaimSignature{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClaimSignatureTamperDetection(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	signed, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)

	amount, ok := new(big.Int).SetString(signed.Amount, 10)
	require.True(t, ok)
	digest := ClaimDigest(testChainID, common.HexToAddress(testContract),
		common.HexToAddress(wallet), amount, signed.Nonce, signed.Deadline)

	recovered, err := RecoverClaimSigner(digest, signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, stack.svc.AuthorityAddress(), recovered)

	// Inflate the amount: the recovered signer drifts away from the
	// authority, so a signer-equality check fails.
	tampered := ClaimDigest(testChainID, common.HexToAddress(testContract),
		common.HexToAddress(wallet), big.NewInt(0).SetUint64(9999999999999999999), signed.Nonce, signed.Deadline)
	drifted, err := RecoverClaimSigner(tampered, signed.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, stack.svc.AuthorityAddress(), drifted)

	// Swap the wallet: same drift.
	tampered = ClaimDigest(testChainID, common.HexToAddress(testContract),
		common.HexToAddress("0x0000000000000000000000000000000000000000"), amount, signed.Nonce, signed.Deadline)
	drifted, err = RecoverClaimSigner(tampered, signed.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, stack.svc.AuthorityAddress(), drifted)

	// A different chain's domain separator binds to a different digest.
	tampered = ClaimDigest(1, common.HexToAddress(testContract),
		common.HexToAddress(wallet), amount, signed.Nonce, signed.Deadline)
	drifted, err = RecoverClaimSigner(tampered, signed.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, stack.svc.AuthorityAddress(), drifted)
}

func TestSignClaimRecoversOrphanedReservation(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	// A pending row with no signature is what a writer that died between
	// reserve and sign leaves behind.
	orphan := model.ClaimSignature{
		Wallet:    wallet,
		Nonce:     0,
		Amount:    "1000000000000000000",
		Status:    model.ClaimPending,
		Deadline:  time.Now().Add(time.Hour).Unix(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, stack.db.Create(&orphan).Error)

	signed, err := stack.svc.SignClaim(context.Background(), wallet, "2000000000000000000")
	require.NoError(t, err)
	assert.False(t, signed.IsExisting)
	assert.NotEmpty(t, signed.Signature)
	assert.Equal(t, uint64(0), signed.Nonce)

	// The reservation is taken over in place, not duplicated.
	var count int64
	require.NoError(t, stack.db.Model(&model.ClaimSignature{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var row model.ClaimSignature
	require.NoError(t, stack.db.First(&row, "id = ?", orphan.ID).Error)
	assert.Equal(t, model.ClaimSigned, row.Status)
	assert.Equal(t, "2000000000000000000", row.Amount)
}

func TestClaimExpirationSweepFreesSlot(t *testing.T) {
	stack := newClaimStack(t, 10*time.Millisecond)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	first, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	nodes := repository.NewNodeRepository(stack.db)
	sweeper := NewSweeper(stack.db, stack.claims, nodes, time.Minute, testLogger())
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	var row model.ClaimSignature
	require.NoError(t, stack.db.First(&row, "wallet = ? AND nonce = ?", wallet, first.Nonce).Error)
	assert.Equal(t, model.ClaimExpired, row.Status)

	// The freed slot can be re-reserved; the new authorization is distinct.
	second, err := stack.svc.SignClaim(context.Background(), wallet, "2000000000000000000")
	require.NoError(t, err)
	assert.False(t, second.IsExisting)
	assert.Equal(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Signature, second.Signature)
}

func TestMarkClaimedAdvancesLedgerNonce(t *testing.T) {
	stack := newClaimStack(t, time.Hour)
	wallet := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	fundPlayer(t, stack.db, wallet, "5000000000000000000")

	first, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)
	require.NoError(t, stack.svc.MarkClaimed(context.Background(), wallet, first.Nonce))

	second, err := stack.svc.SignClaim(context.Background(), wallet, "1000000000000000000")
	require.NoError(t, err)
	assert.False(t, second.IsExisting)
	assert.Equal(t, first.Nonce+1, second.Nonce)
}
