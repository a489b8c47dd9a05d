package ipwatch

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// RealIP returns the client IP as reported by header.
// The value is trusted verbatim: only a reverse proxy that overwrites the header makes it
// trustworthy. For a list like "client, proxy1, proxy2" the first entry is used.
// When the header is missing the address of the connection's peer is returned
func RealIP(c *gin.Context, header string) string {
	if header != "" {
		if value := c.GetHeader(header); value != "" {
			if idx := strings.Index(value, ","); idx >= 0 {
				value = value[:idx]
			}
			value = strings.TrimSpace(value)

			// extract the IP address from what is potentially a host:port format
			if host, _, err := net.SplitHostPort(value); err == nil {
				value = host
			}
			if value != "" {
				return value
			}
		}
	}

	return c.RemoteIP()
}
