package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/digidex/api"
)

func (h *Handler) GetDataSource(c *gin.Context) {
	source, ok := h.catalog.DataSources().Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, api.NewDataSource(source))
}

// StreamDataSource pushes every provenance tag as a server-sent event until
// the client goes away.
func (h *Handler) StreamDataSource(c *gin.Context) {
	ctx := c.Request.Context()
	tags := h.catalog.DataSources().Subscribe(ctx)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case source, ok := <-tags:
			if !ok {
				return false
			}
			c.SSEvent("datasource", api.NewDataSource(source))
			return true
		}
	})
}
