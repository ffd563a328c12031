package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/digidex/api"
	"github.com/dfryer1193/digidex/catalog/domain"
)

// GetItems lists the catalog, optionally narrowed by ?name= or ?level=.
func (h *Handler) GetItems(c *gin.Context) {
	q := domain.AllItems()
	if name := c.Query("name"); name != "" {
		q = domain.ItemsByName(name)
	} else if level := c.Query("level"); level != "" {
		q = domain.ItemsByLevel(level)
	}

	items, source, err := h.catalog.Lookup(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewItemsResponse(items, source))
}

func (h *Handler) RefreshItems(c *gin.Context) {
	items, err := h.catalog.RefreshData(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewItemsResponse(items, domain.SourceRemote))
}

// GetItemImage serves the image of the item whose name matches exactly,
// ignoring case. The lookup does not publish a data source.
func (h *Handler) GetItemImage(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	item, found, err := h.catalog.FindItem(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, fmt.Errorf("item %q: %w", name, domain.ErrNotFound))
		return
	}

	img, err := h.catalog.GetImage(ctx, item)
	if err != nil {
		writeError(c, err)
		return
	}
	if img == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, img.ContentType(), img.Data)
}

// ClearCache drops the local store and the image cache.
func (h *Handler) ClearCache(c *gin.Context) {
	if err := h.catalog.ClearAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCacheStats reports image cache occupancy and where images were found.
func (h *Handler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, api.NewCacheStats(h.imageStats.Stats()))
}

func (h *Handler) Health(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
