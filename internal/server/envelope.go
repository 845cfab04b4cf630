package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// respond writes the double-nested response envelope every e-Bridge client
// expects: an outer frame with the transport status and an inner frame with
// the operation result.
func respond(c echo.Context, statusCode int, message string, payload any) error {
	inner := map[string]any{
		"statusCode": statusCode,
		"message":    message,
	}
	if payload != nil {
		inner["data"] = payload
	}
	return c.JSON(statusCode, map[string]any{
		"success":    statusCode < 400,
		"statusCode": statusCode,
		"data":       inner,
	})
}

func respondError(c echo.Context, statusCode int, message string) error {
	return respond(c, statusCode, message, nil)
}

// errorHandler converts echo errors (404s, middleware rejections, panics
// surfaced as HTTPError) into the envelope format.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := "internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	_ = respondError(c, code, message)
}
