// Package processor runs the prompt to video pipeline: ask the model for a
// script, render it, and on failure ask once for a correction.
package processor

import (
	"context"

	"scenegen/internal/pkg/logger"
	"scenegen/internal/pkg/metrics"
	"scenegen/internal/ports"
	"scenegen/internal/renderer"
)

// Renderer executes a sanitized script.
type Renderer interface {
	Render(ctx context.Context, code string) renderer.Result
}

type Deps struct {
	LLM      ports.CodeGenerator
	Renderer Renderer
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	// NewID names generations; defaults to renderer.NewID.
	NewID func() string
}

type Processor struct {
	llm      ports.CodeGenerator
	renderer Renderer
	log      *logger.Logger
	metrics  *metrics.Metrics
	newID    func() string
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	newID := d.NewID
	if newID == nil {
		newID = renderer.NewID
	}
	return &Processor{
		llm:      d.LLM,
		renderer: d.Renderer,
		log:      log.WithComponent("processor"),
		metrics:  d.Metrics,
		newID:    newID,
	}
}

// Generate runs the pipeline for prompt. Render failures are reported in the
// Generation; an error means the model could not be reached or refused the
// request. The pipeline is not canceled with ctx: every stage is bounded by
// its own timeout.
func (p *Processor) Generate(ctx context.Context, prompt string) (*Generation, error) {
	ctx = context.WithoutCancel(ctx)
	gen := &Generation{ID: p.newID(), Prompt: prompt}
	log := p.log.FromContext(ctx).WithFields(map[string]any{"generation_id": gen.ID})

	// 1. Initial script
	log.Debug("requesting initial code")
	raw, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		p.metrics.RecordGeneration(ctx, metrics.OutcomeFailure, false)
		log.Error("initial code request failed", "error", err.Error())
		return nil, err
	}

	// 2. Render
	gen.Code = renderer.Sanitize(raw)
	res := p.renderer.Render(ctx, gen.Code)

	// 3. One correction cycle
	if needsCorrection(res) {
		log.Info("render failed, requesting correction", "kind", string(res.Kind))

		// The model is shown its own reply, not the filtered script.
		fixedRaw, err := p.llm.Fix(ctx, prompt, raw, res.Error)
		if err != nil {
			p.metrics.RecordGeneration(ctx, metrics.OutcomeFailure, true)
			log.Error("correction request failed", "error", err.Error())
			return nil, err
		}

		gen.Code = renderer.Sanitize(fixedRaw)
		gen.Corrected = true
		res = p.renderer.Render(ctx, gen.Code)
	}

	gen.apply(res)

	outcome := metrics.OutcomeSuccess
	if !gen.Success {
		outcome = metrics.OutcomeFailure
	}
	p.metrics.RecordGeneration(ctx, outcome, gen.Corrected)
	log.Info("generation finished",
		"success", gen.Success,
		"corrected", gen.Corrected,
		"video", gen.VideoPath,
	)

	return gen, nil
}

// needsCorrection reports whether the model can plausibly fix the failure.
// A missing renderer is not something a new script can repair.
func needsCorrection(res renderer.Result) bool {
	return !res.Success && res.Error != "" && res.Kind != renderer.KindUnavailable
}
