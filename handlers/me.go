package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kabsmeiou/Pamahres/internal/auth"
	"github.com/kabsmeiou/Pamahres/pkg/middleware"
)

// MeHandler exposes the authenticated user.
type MeHandler struct {
	authn *middleware.Authenticator
}

func NewMeHandler(a *middleware.Authenticator) *MeHandler {
	return &MeHandler{authn: a}
}

// Register routes under the given group
func (h *MeHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/me", middleware.Authenticate(h.authn), middleware.RequireUser(), h.Me)
}

// Me returns the local user and, when present, the Clerk session it came from.
func (h *MeHandler) Me(c *gin.Context) {
	resp := gin.H{"user": middleware.CurrentUser(c)}
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok && claims.SessionID != "" {
			resp["session_id"] = claims.SessionID
		}
	}
	c.JSON(http.StatusOK, resp)
}
