package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Registrar attaches a group of routes.
type Registrar interface {
	Register(r *gin.Engine)
}

// NewRouter builds the gin engine with the shared middleware chain.
func NewRouter(logger zerolog.Logger, handlers ...Registrar) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), AccessLog(logger))
	for _, h := range handlers {
		h.Register(engine)
	}
	return engine
}
