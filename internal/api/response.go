package api

import (
	"errors"
	"net/http"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Meta carries pagination details for list responses.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type errorMessage struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	ErrorMessages []errorMessage `json:"errorMessages"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, response{Success: true, Message: message, Data: data})
}

func respondList(c *gin.Context, message string, data interface{}, meta Meta) {
	c.JSON(http.StatusOK, response{Success: true, Message: message, Data: data, Meta: &meta})
}

// respondError maps domain errors to their HTTP status and the uniform error
// envelope. Unknown errors never leak details to the client.
func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus(), errorResponse{
			Success: false,
			Message: appErr.Message,
			ErrorMessages: []errorMessage{
				{Path: c.FullPath(), Message: appErr.Message},
			},
		})
		return
	}

	util.GetLogger().Error("Unhandled error",
		zap.String("path", c.FullPath()),
		zap.Error(err))

	c.JSON(http.StatusInternalServerError, errorResponse{
		Success: false,
		Message: "Internal server error",
		ErrorMessages: []errorMessage{
			{Path: c.FullPath(), Message: "Internal server error"},
		},
	})
}

// errUnauthenticated covers routes the upstream gateway should have guarded
// but where no identity header arrived.
func errUnauthenticated() error {
	return apperr.Forbidden("authentication required")
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Success: false,
		Message: "Invalid request body",
		ErrorMessages: []errorMessage{
			{Path: c.FullPath(), Message: err.Error()},
		},
	})
}
