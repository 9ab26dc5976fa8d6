package handlers

import (
	"net/http"
	"strconv"

	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/core/audio"
)

// AudioHandler serves synthesized clips referenced by plan lines.
type AudioHandler struct {
	Clips *audio.Cache
}

func (h AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	if h.Clips == nil {
		writeError(w, r, core.NewNotFoundError("audio clip not found"))
		return
	}
	clip, ok := h.Clips.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, core.NewNotFoundError("audio clip not found"))
		return
	}

	contentType := clip.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=600")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(clip.Data)
}
