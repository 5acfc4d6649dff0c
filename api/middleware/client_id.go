package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ClientIDKey is the gin context key holding the caller's client id
const ClientIDKey = "client_id"

// ClientID identifies the caller by cookie, falling back to the query
// parameter of the same name. Callers without either get a fresh id issued
// as a cookie.
func ClientID(cookieName string, maxAge int) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, err := c.Cookie(cookieName)
		if err != nil || clientID == "" {
			clientID = c.Query(cookieName)
		}
		if clientID == "" {
			clientID = uuid.New().String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, clientID, maxAge, "/", "", false, true)
		}

		c.Set(ClientIDKey, clientID)
		c.Next()
	}
}

// GetClientID returns the id set by ClientID
func GetClientID(c *gin.Context) string {
	return c.GetString(ClientIDKey)
}
