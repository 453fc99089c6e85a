package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/procura/internal/authorization"
)

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, userID := actorFromContext(c)
		if userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if orgID == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), authorization.UserActor(userID), orgID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
