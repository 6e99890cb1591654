package tc

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAPI exposes a read-only operator view over the coordinator: which
// global transactions are still in flight, which branches have exhausted
// their phase-2 retries, and cache/rate-limiter health.
type AdminAPI struct {
	coord   *Coordinator
	limiter *RateLimiter
}

// NewAdminAPI builds an AdminAPI over coord. limiter may be nil if the
// caller doesn't want rate-limiter stats exposed.
func NewAdminAPI(coord *Coordinator, limiter *RateLimiter) *AdminAPI {
	return &AdminAPI{coord: coord, limiter: limiter}
}

// Router builds the gin.Engine serving the admin API. Binding it to an
// address is left to the caller.
func (a *AdminAPI) Router() *gin.Engine {
	r := gin.Default()

	v1 := r.Group("/admin/v1")
	{
		v1.GET("/transactions", a.listNonTerminal)
		v1.GET("/transactions/:xid", a.getStatus)
		v1.GET("/branches/failed", a.listFailedBranches)
		v1.GET("/stats/cache", a.cacheStats)
		v1.GET("/stats/ratelimit", a.rateLimitStats)
		v1.GET("/healthz", a.healthz)
	}
	return r
}

func (a *AdminAPI) listNonTerminal(c *gin.Context) {
	globals, err := a.coord.store.ListNonTerminalGlobals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(globals), "transactions": globals})
}

func (a *AdminAPI) getStatus(c *gin.Context) {
	xid := c.Param("xid")
	status, err := a.coord.GlobalStatus(xid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	branches, err := a.coord.store.ListBranches(xid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"xid": xid, "status": status, "branches": branches})
}

func (a *AdminAPI) listFailedBranches(c *gin.Context) {
	branches, err := a.coord.store.ListFailedBranches()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(branches), "branches": branches})
}

func (a *AdminAPI) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.coord.cache.GetStats())
}

func (a *AdminAPI) rateLimitStats(c *gin.Context) {
	if a.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"note": "rate limiting disabled"})
		return
	}
	c.JSON(http.StatusOK, a.limiter.GetStats())
}

func (a *AdminAPI) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
