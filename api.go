package ipwatch

import (
	"bytes"
	"net"
	"net/http"
	"sort"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/scraperwall/ipwatch/data"
)

// NewRouter creates the gin engine with the ipwatch middleware in front of every route.
// Read-only visit endpoints are mounted below adminPrefix unless it is empty
func NewRouter(w *IPWatch, adminPrefix string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), w.Middleware())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello World")
	})

	if adminPrefix != "" {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true

		admin := router.Group(adminPrefix)
		admin.Use(cors.New(corsConfig))
		admin.GET("/visits", w.getVisits)
		admin.GET("/visits/:ip", w.getVisit)
	}

	return router
}

func (w *IPWatch) getVisits(c *gin.Context) {
	visits, err := w.Visits()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load the visits"})
		return
	}

	res := make([]data.IPVisits, 0, len(visits))
	for ip, v := range visits {
		res = append(res, data.IPVisits{IP: ip, Visit: v})
	}

	if c.Query("sort") == "ip" {
		sort.Slice(res, func(a, b int) bool {
			return lessIP(res[a].IP, res[b].IP)
		})
	} else {
		sort.Slice(res, func(a, b int) bool {
			if res[a].Count == res[b].Count {
				return res[a].IP < res[b].IP
			}
			return res[a].Count > res[b].Count
		})
	}

	c.JSON(http.StatusOK, res)
}

func (w *IPWatch) getVisit(c *gin.Context) {
	ip := c.Param("ip")

	visits, err := w.Visits()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load the visits"})
		return
	}

	v, ok := visits[ip]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown IP " + ip})
		return
	}

	c.JSON(http.StatusOK, data.IPVisits{IP: ip, Visit: v})
}

// lessIP orders parseable IPs numerically and everything else lexically after them
func lessIP(a, b string) bool {
	ipa, ipb := net.ParseIP(a), net.ParseIP(b)
	switch {
	case ipa != nil && ipb != nil:
		return bytes.Compare(ipa.To16(), ipb.To16()) < 0
	case ipa != nil:
		return true
	case ipb != nil:
		return false
	}
	return a < b
}
