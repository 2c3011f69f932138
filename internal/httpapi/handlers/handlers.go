// Package handlers implements the HTTP endpoints of the API.
package handlers

import (
	"context"

	"scenegen/internal/pkg/logger"
	"scenegen/internal/ports"
	"scenegen/internal/processor"
	"scenegen/internal/renderer"
)

// Generator runs the prompt to video pipeline.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*processor.Generation, error)
}

// RendererStatus reports whether the renderer binary was found at startup.
type RendererStatus interface {
	Available() renderer.Availability
}

// Pinger is any dependency that can be health checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Generator Generator
	Store     ports.StorageProvider
	Renderer  RendererStatus
	// Redis is nil when rate limiting is disabled.
	Redis   Pinger
	Log     *logger.Logger
	Version string
}

type Handler struct {
	gen      Generator
	store    ports.StorageProvider
	renderer RendererStatus
	redis    Pinger
	log      *logger.Logger
	version  string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		gen:      d.Generator,
		store:    d.Store,
		renderer: d.Renderer,
		redis:    d.Redis,
		log:      log.WithComponent("http"),
		version:  d.Version,
	}
}
