package rest

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/dfryer1193/digidex/catalog/application"
	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/catalog/imagecache"
	"github.com/dfryer1193/digidex/internal/middleware"
)

// Catalog is the part of the repository the HTTP surface needs.
type Catalog interface {
	Lookup(ctx context.Context, q domain.Query) ([]domain.Item, domain.DataSource, error)
	FindItem(ctx context.Context, name string) (domain.Item, bool, error)
	RefreshData(ctx context.Context) ([]domain.Item, error)
	GetImage(ctx context.Context, item domain.Item) (*domain.Image, error)
	ClearAll(ctx context.Context) error
	DataSources() *application.DataSourceFeed
}

// ImageStats reports image cache occupancy and hit counts.
type ImageStats interface {
	Stats() imagecache.Stats
}

type Handler struct {
	catalog     Catalog
	verifier    *middleware.TokenVerifier
	healthCheck func(ctx context.Context) error
	imageStats  ImageStats
}

type ApiOption func(*Handler)

// WithImageStats exposes the image cache statistics on GET /cache/v1/.
func WithImageStats(s ImageStats) ApiOption {
	return func(h *Handler) { h.imageStats = s }
}

// WithAuth requires a valid bearer token on the item and cache routes.
func WithAuth(v *middleware.TokenVerifier) ApiOption {
	return func(h *Handler) { h.verifier = v }
}

// WithHealthCheck makes /healthz report the result of check.
func WithHealthCheck(check func(ctx context.Context) error) ApiOption {
	return func(h *Handler) { h.healthCheck = check }
}

func NewApi(router *gin.Engine, catalog Catalog, opts ...ApiOption) *Handler {
	h := &Handler{catalog: catalog}
	for _, opt := range opts {
		opt(h)
	}

	router.GET("/healthz", h.Health)

	var protected []gin.HandlerFunc
	if h.verifier != nil {
		protected = append(protected, middleware.RequireBearer(h.verifier))
	}

	itemsV1 := router.Group("items/v1", protected...)
	{
		itemsV1.GET("/", h.GetItems)
		itemsV1.POST("/refresh", h.RefreshItems)
		itemsV1.GET("/:name/image", h.GetItemImage)
	}

	dataSourceV1 := router.Group("datasource/v1")
	{
		dataSourceV1.GET("/", h.GetDataSource)
		dataSourceV1.GET("/stream", h.StreamDataSource)
	}

	cacheV1 := router.Group("cache/v1", protected...)
	{
		cacheV1.DELETE("/", h.ClearCache)
		if h.imageStats != nil {
			cacheV1.GET("/", h.GetCacheStats)
		}
	}

	return h
}
