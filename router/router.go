package router

import (
	"github.com/gin-gonic/gin"

	"github.com/abyssmine/abyss-backend/handler"
	"github.com/abyssmine/abyss-backend/ws"
)

func SetupRouter(claimHandler *handler.ClaimHandler, nodeHandler *handler.NodeHandler, wsServer *ws.Server) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.POST("/claims/sign", claimHandler.SignClaim)
		api.POST("/claims/redeem", claimHandler.RedeemClaim)
		api.GET("/players/balance", claimHandler.GetBalance)
		api.GET("/nodes", nodeHandler.ListNodes)
	}

	r.GET("/ws/mining", gin.WrapF(wsServer.Handler()))

	return r
}
