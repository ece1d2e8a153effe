package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// RequestLogger writes one zerolog line per request. Errors attached with
// c.Error are included. Server errors log at error level.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		evt := log.Info()
		if param.StatusCode >= 500 {
			evt = log.Error()
		}
		reqID, _ := param.Keys[response.ContextKeyRequestID].(string)
		evt.
			Str("request_id", reqID).
			Str("client_ip", param.ClientIP).
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status_code", param.StatusCode).
			Dur("latency", param.Latency).
			Str("error_message", param.ErrorMessage).
			Msg("Request handled")
		return ""
	})
}
