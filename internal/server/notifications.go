package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type listNotificationsQuery struct {
	UnreadOnly string `form:"unread_only"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	var query listNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	unread, err := parseOptionalBool(query.UnreadOnly)
	if err != nil {
		AbortWithError(c, newValidationError("unread_only", "invalid_unread_only", "invalid unread_only"))
		return
	}

	orgID, userID := actorFromContext(c)
	items, err := s.notificationSvc.ListForUser(c.Request.Context(), orgID, userID, unread != nil && *unread, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	_, userID := actorFromContext(c)
	if err := s.notificationSvc.MarkRead(c.Request.Context(), userID, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
