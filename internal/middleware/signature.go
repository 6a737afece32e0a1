package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vhvplatform/go-wellness-notifier/internal/metrics"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

// RawBodyKey is the context key holding the verified request body
const RawBodyKey = "raw_body"

// RequireSignature rejects requests whose body does not match the
// x-webhook-signature header. The verified body is stored under RawBodyKey.
func RequireSignature(v *signature.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := v.VerifyRequest(c.Request)
		if !ok {
			metrics.SignatureRejections.WithLabelValues("http").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid signature",
			})
			return
		}

		c.Set(RawBodyKey, body)
		c.Next()
	}
}

// RawBody returns the body stored by RequireSignature
func RawBody(c *gin.Context) []byte {
	if v, ok := c.Get(RawBodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}
