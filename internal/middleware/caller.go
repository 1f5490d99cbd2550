package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rideledger/internal/domain"
	"rideledger/internal/service"
)

const (
	// IdentityHeader carries the caller's hex Ed25519 public key.
	IdentityHeader = "X-Ride-Identity"

	// KeyHeader optionally carries the record key the caller expects to address.
	KeyHeader = "X-Ride-Key"

	callerKey = "caller"
)

// Caller parses the caller identity and bearer proof into the request context.
// Absent headers leave a zero caller; the service decides whether that is allowed.
func Caller() gin.HandlerFunc {
	return func(c *gin.Context) {
		var caller service.Caller

		if raw := c.GetHeader(IdentityHeader); raw != "" {
			id, err := domain.ParseIdentity(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + IdentityHeader + " header"})
				return
			}
			caller.Identity = id
		}

		if authz := c.GetHeader("Authorization"); authz != "" {
			token, found := strings.CutPrefix(authz, "Bearer ")
			if !found {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization must be a bearer token"})
				return
			}
			caller.Proof = strings.TrimSpace(token)
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// GetCaller returns the caller parsed by Caller.
func GetCaller(c *gin.Context) service.Caller {
	if v, ok := c.Get(callerKey); ok {
		return v.(service.Caller)
	}
	return service.Caller{}
}
