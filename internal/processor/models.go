package processor

import "scenegen/internal/renderer"

// Generation is the outcome of one prompt. Code is the script that was
// executed last: the corrected one whenever a correction was requested.
type Generation struct {
	ID     string
	Prompt string
	Code   string

	Success bool
	Error   string

	VideoID   string
	VideoPath string

	// Corrected is set when the model was asked to fix the first script.
	Corrected bool
	// Render is the result of the last render.
	Render renderer.Result
}

func (g *Generation) apply(res renderer.Result) {
	g.Render = res
	g.Success = res.Success
	g.Error = res.Error
	g.VideoID = res.VideoID
	g.VideoPath = res.VideoPath
}
