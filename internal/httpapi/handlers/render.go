package handlers

import (
	"io"
	"net/http"
	"strings"

	"pyro/internal/encode"
	"pyro/internal/httpkit"
	"pyro/internal/pkg/errors"
)

type sizeBody struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PostRender renders the scene in the request body and returns the frame.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	format, err := encode.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return err
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSceneBytes))
	if err != nil {
		return errors.InvalidPayload("read scene body", err)
	}

	return h.render(w, r, format, payload)
}

// GetRender renders a scene file from the library: GET /render?fp=box.json.
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	format, err := encode.ParseFormat(q.Get("format"))
	if err != nil {
		return err
	}

	fp := strings.TrimSpace(q.Get("fp"))
	if fp == "" {
		return errors.ValidationField("fp", "scene file is required")
	}
	if h.scenes == nil {
		return errors.Unavailable("scene library")
	}

	payload, err := h.scenes.Load(fp)
	if err != nil {
		return err
	}
	return h.render(w, r, format, payload)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, format encode.Format, payload []byte) error {
	frame, err := h.renderer.Render(r.Context(), payload)
	if err != nil {
		return err
	}
	return writeFrame(w, format, frame)
}

// GetRenderSize reports the resolution applied to the next job.
func (h *Handler) GetRenderSize(w http.ResponseWriter, r *http.Request) error {
	res := h.renderer.Resolution()
	httpkit.WriteJSON(w, http.StatusOK, sizeBody{Width: res.Width, Height: res.Height})
	return nil
}

// PutRenderSize changes the resolution for jobs submitted after it.
func (h *Handler) PutRenderSize(w http.ResponseWriter, r *http.Request) error {
	var body sizeBody
	if err := httpkit.DecodeJSON(r, &body); err != nil {
		return errors.InvalidPayload("invalid json body", err)
	}
	if err := h.renderer.SetResolution(r.Context(), body.Width, body.Height); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("resolution changed", "width", body.Width, "height", body.Height)
	httpkit.WriteJSON(w, http.StatusOK, body)
	return nil
}
