package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/abyssmine/abyss-backend/repository"
	"github.com/abyssmine/abyss-backend/service"
)

type ClaimHandler struct {
	claims  *service.ClaimService
	redeem  *service.RedeemService
	players *repository.PlayerRepository
	log     *logrus.Logger
}

func NewClaimHandler(claims *service.ClaimService, redeem *service.RedeemService,
	players *repository.PlayerRepository, log *logrus.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, redeem: redeem, players: players, log: log}
}

// POST /api/claims/sign
func (h *ClaimHandler) SignClaim(c *gin.Context) {
	var req struct {
		WalletAddress   string `json:"walletAddress" binding:"required"`
		RequestedAmount string `json:"requestedAmount" binding:"required"`
		Message         string `json:"message" binding:"required"`
		Signature       string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "BAD_REQUEST"})
		return
	}

	if err := VerifyWalletSignature(req.WalletAddress, req.Message, req.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wallet authentication failed", "code": service.CodeUnauthorizedWallet})
		return
	}

	signed, err := h.claims.SignClaim(c.Request.Context(), req.WalletAddress, req.RequestedAmount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signature":  signed.Signature,
		"nonce":      signed.Nonce,
		"amount":     signed.Amount,
		"deadline":   signed.Deadline,
		"isExisting": signed.IsExisting,
	})
}

// POST /api/claims/redeem
func (h *ClaimHandler) RedeemClaim(c *gin.Context) {
	var req struct {
		ClaimID         string `json:"claimId" binding:"required"`
		Wallet          string `json:"wallet" binding:"required"`
		RequestedAmount string `json:"requestedAmount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "BAD_REQUEST"})
		return
	}

	newBalance, err := h.redeem.Redeem(c.Request.Context(), req.ClaimID, req.Wallet, req.RequestedAmount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"newBalance": newBalance})
}

// GET /api/players/balance
func (h *ClaimHandler) GetBalance(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet required", "code": "BAD_REQUEST"})
		return
	}

	player, err := h.players.FindOrCreate(c.Request.Context(), wallet)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resources, err := h.players.Resources(c.Request.Context(), wallet)
	if err != nil {
		h.writeError(c, err)
		return
	}

	balances := make(map[string]int64, len(resources))
	for _, r := range resources {
		balances[r.Resource] = r.Amount
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":        player.Wallet,
		"submarineTier": player.SubmarineTier,
		"tokenBalance":  player.TokenBalance,
		"resources":     balances,
	})
}

// writeError maps the unified taxonomy onto HTTP. Authorization failures are
// surfaced verbatim (stale client or attacker, either way the text is the
// contract); internal failures are not.
func (h *ClaimHandler) writeError(c *gin.Context, err error) {
	code := service.CodeOf(err)
	switch service.KindOf(err) {
	case service.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": code})
	case service.KindContention:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": code})
	case service.KindAuthorization:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": code})
	default:
		h.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": code})
	}
}
