package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"

	"duka/internal/callback"
)

const callbackClaimsKey = "callbackClaims"

// CallbackAuth verifies the signed token on gateway callback URLs and, when allowedCIDRs is
// not empty, that the caller's address is in one of the listed networks. Rejected callbacks
// never reach the handler.
func CallbackAuth(signer *callback.Signer, allowedCIDRs []string, log *slog.Logger) (gin.HandlerFunc, error) {
	prefixes := make([]netip.Prefix, 0, len(allowedCIDRs))
	for _, raw := range allowedCIDRs {
		p, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p.Masked())
	}

	return func(c *gin.Context) {
		if len(prefixes) > 0 && !addrAllowed(remoteAddr(c), prefixes) {
			log.WarnContext(c.Request.Context(), "callback from address outside allow-list", "remote_addr", c.Request.RemoteAddr)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		claims, err := signer.Verify(c.Query(callback.QueryParam))
		if err != nil {
			log.WarnContext(c.Request.Context(), "callback token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
			return
		}

		c.Set(callbackClaimsKey, claims)
		c.Next()
	}, nil
}

// CallbackClaims returns the verified token claims stored by CallbackAuth.
func CallbackClaims(c *gin.Context) (*callback.Claims, bool) {
	v, ok := c.Get(callbackClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*callback.Claims)
	return claims, ok
}

// remoteAddr is the TCP peer address. Forwarding headers are ignored here because the
// allow-list exists to pin callers the proxy cannot vouch for.
func remoteAddr(c *gin.Context) netip.Addr {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		host = c.Request.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func addrAllowed(addr netip.Addr, prefixes []netip.Prefix) bool {
	if !addr.IsValid() {
		return false
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
