package presenter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/appforge/internal/domain"
)

type errorResponse struct {
	Error string      `json:"error"`
	Code  domain.Code `json:"code"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

// OKWithETag answers 304 when the client already holds the same body.
func OKWithETag(c echo.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return InternalError(c, err)
	}

	etag := `"` + strconv.FormatUint(xxh3.Hash(body), 16) + `"`
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func BadRequest(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("bad request")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: domain.CodeValidation})
}

func BadRequestMessage(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("bad request: " + msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Code: domain.CodeValidation})
}

func NotFound(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("not found")
	return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

func Conflict(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("conflict")
	return c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

func InternalError(c echo.Context, err error) error {
	log.Error().Err(err).Str("path", c.Path()).Msg("internal error")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

// Error picks the response status from the kind of err.
func Error(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return NotFound(c, err)
	case errors.Is(err, domain.ErrValidation):
		return BadRequest(c, err)
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		return Conflict(c, err)
	default:
		return InternalError(c, err)
	}
}
