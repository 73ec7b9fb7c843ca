// Package identity attaches the authenticated user to outgoing requests and
// reads it back on the serving side. The chat core never sets it itself.
package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
)

// QueryParam carries the user id on every request.
const QueryParam = "user_id"

const userIDContextKey = "identity_user_id"

// Provider yields the current user's id.
type Provider interface {
	UserID() string
}

// Static is a fixed identity, e.g. from configuration.
type Static string

func (s Static) UserID() string { return string(s) }

var ErrNoIdentity = errors.New("identity: no user id available")

// Attach installs a request middleware on c that adds the user id to every
// request it sends.
func Attach(c *req.Client, p Provider) *req.Client {
	return c.OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
		id := p.UserID()
		if id == "" {
			return ErrNoIdentity
		}
		r.SetQueryParam(QueryParam, id)
		return nil
	})
}

// Middleware rejects requests without a well-formed user id and stores it in
// the gin context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query(QueryParam)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "user_id is required"})
			return
		}
		if _, err := uuid.Parse(raw); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid user_id format"})
			return
		}
		c.Set(userIDContextKey, raw)
		c.Next()
	}
}

// UserIDFromContext retrieves the user id stored by Middleware.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}
