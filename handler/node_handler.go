package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/abyssmine/abyss-backend/repository"
)

type NodeHandler struct {
	nodes *repository.NodeRepository
	log   *logrus.Logger
}

func NewNodeHandler(nodes *repository.NodeRepository, log *logrus.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, log: log}
}

// GET /api/nodes
// Returns the mineable world state clients render on join.
func (h *NodeHandler) ListNodes(c *gin.Context) {
	nodes, err := h.nodes.ListAvailable(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list nodes failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}
