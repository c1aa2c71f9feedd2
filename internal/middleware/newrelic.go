package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware returns middleware that instruments requests with New Relic.
func NewRelicMiddleware(app *newrelic.Application) gin.HandlerFunc {
	if app == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return nrgin.Middleware(app)
}

// NewRelicContext copies the gin transaction onto the request context, so services reach it
// with newrelic.FromContext and Redis/PostgreSQL segments attach to it. It must run after
// NewRelicMiddleware.
func NewRelicContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		c.Request = newrelic.RequestWithTransactionContext(c.Request, txn)
		txn.AddAttribute("http.clientIp", c.ClientIP())
		if key := c.GetHeader(idempotencyHeader); key != "" {
			txn.AddAttribute("http.idempotencyKey", key)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
