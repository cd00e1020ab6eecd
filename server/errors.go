package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MessageResponse 所有错误响应的格式
type MessageResponse struct {
	Message string `json:"message" example:"Not found"`
}

// apiError 每个失败阶段对应一个固定的状态码和消息
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return e.message
}

var (
	errNotFound  = &apiError{status: http.StatusNotFound, message: "Not found"}
	errReadInput = &apiError{status: http.StatusBadRequest, message: "Failed to read input image"}
	errProcess   = &apiError{status: http.StatusInternalServerError, message: "Failed to process input image"}
	errSave      = &apiError{status: http.StatusInternalServerError, message: "Failed to save output image"}
	errInternal  = &apiError{status: http.StatusInternalServerError, message: "Internal server error"}
)

func abortWithError(c *gin.Context, err *apiError) {
	c.AbortWithStatusJSON(err.status, MessageResponse{Message: err.message})
}
