package handlers

import (
	"net/http"

	"scenegen/internal/httpkit"
	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/middleware"
)

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse mirrors the pipeline outcome. VideoURL and Error are null
// when absent.
type GenerateResponse struct {
	ID       string  `json:"id"`
	Prompt   string  `json:"prompt"`
	Code     string  `json:"code"`
	VideoURL *string `json:"video_url"`
	Success  bool    `json:"success"`
	Error    *string `json:"error"`
}

var generateSchema = httpkit.MustSchema(map[string]any{
	"type":     "object",
	"required": []any{"prompt"},
	"properties": map[string]any{
		"prompt": map[string]any{
			"type":      "string",
			"minLength": 1,
			"pattern":   `\S`,
		},
	},
})

// Generate handles POST /api/generate. Render failures are reported with
// 200 and success=false; pipeline errors become 500 {"detail": ...}.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := httpkit.DecodeValid(r, generateSchema, &req); err != nil {
		middleware.HandleError(w, r, h.log, err)
		return
	}

	gen, err := h.gen.Generate(r.Context(), req.Prompt)
	if err != nil {
		middleware.LogRequestError(r, h.log, err)
		httpkit.WriteDetail(w, http.StatusInternalServerError, errors.Detail(err))
		return
	}

	resp := GenerateResponse{
		ID:      gen.ID,
		Prompt:  gen.Prompt,
		Code:    gen.Code,
		Success: gen.Success,
	}
	if gen.Success {
		url := VideoURL(gen.VideoID)
		resp.VideoURL = &url
	}
	if gen.Error != "" {
		msg := gen.Error
		resp.Error = &msg
	}

	httpkit.WriteJSON(w, http.StatusOK, resp)
}

// VideoURL is the public path of a rendered video.
func VideoURL(id string) string {
	return "/api/videos/" + id
}
