package devserver

import (
	"github.com/gin-gonic/gin"
)

// The stub speaks the same error envelope the real backend does, so the
// engine's decoder exercises its production path in every test.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func failValidation(c *gin.Context, err error) {
	fail(c, 400, "validation_error", err.Error())
}
