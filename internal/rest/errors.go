package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dfryer1193/digidex/api"
	"github.com/dfryer1193/digidex/catalog/domain"
)

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	resp := api.ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var statusErr *domain.HTTPStatusError
	var transportErr *domain.TransportError
	switch {
	case errors.As(err, &statusErr):
		status = http.StatusBadGateway
		resp.UpstreamStatus = statusErr.Code
	case errors.As(err, &transportErr), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	}

	_ = c.Error(err)
	zerolog.Ctx(c.Request.Context()).Debug().Err(err).Int("status", status).Msg("Request failed")
	c.AbortWithStatusJSON(status, resp)
}
