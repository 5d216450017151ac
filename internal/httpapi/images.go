package httpapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
)

// maxEditUpload bounds the multipart body accepted by /v1/images/edits.
const maxEditUpload = 32 << 20

func (s *server) handleImagesGenerations(w http.ResponseWriter, r *http.Request) {
	auth, err := s.classify(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req imagesGenerationsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("prompt is required"))
		return
	}

	ctx, cancel := contextWithAPITimeout(r, s.apiTimeout())
	defer cancel()

	outcome, err := s.runGeneration(ctx, auth, generationRequest{
		Task:           imggateway.TaskText,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Size:           req.Size,
		N:              req.N,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, imagesResponse{Created: time.Now().Unix(), Data: outcome.Images})
}

func (s *server) handleImagesEdits(w http.ResponseWriter, r *http.Request) {
	auth, err := s.classify(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req generationRequest
	req.Task = imggateway.TaskEdit

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxEditUpload); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid multipart body"))
			return
		}
		req.Prompt = r.FormValue("prompt")
		req.Model = r.FormValue("model")
		req.Size = r.FormValue("size")
		req.ResponseFormat = r.FormValue("response_format")
		if n, err := strconv.Atoi(r.FormValue("n")); err == nil {
			req.N = n
		}
		images, err := readEditImages(r.MultipartForm)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		req.Images = images
	} else {
		var body imagesBlendRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		req.Prompt = body.Prompt
		req.Model = body.Model
		req.Size = body.Size
		req.N = body.N
		req.ResponseFormat = body.ResponseFormat
		req.Images = body.Images
	}

	if len(req.Images) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("at least one input image is required"))
		return
	}

	ctx, cancel := contextWithAPITimeout(r, s.apiTimeout())
	defer cancel()

	outcome, err := s.runGeneration(ctx, auth, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, imagesResponse{Created: time.Now().Unix(), Data: outcome.Images})
}

func (s *server) handleImagesBlend(w http.ResponseWriter, r *http.Request) {
	auth, err := s.classify(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req imagesBlendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Images) < 2 {
		writeJSON(w, http.StatusBadRequest, errorResponse("blend requires at least two input images"))
		return
	}

	ctx, cancel := contextWithAPITimeout(r, s.apiTimeout())
	defer cancel()

	outcome, err := s.runGeneration(ctx, auth, generationRequest{
		Task:           imggateway.TaskBlend,
		Prompt:         req.Prompt,
		Images:         req.Images,
		Model:          req.Model,
		Size:           req.Size,
		N:              req.N,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, imagesResponse{Created: time.Now().Unix(), Data: outcome.Images})
}

// readEditImages collects every uploaded file under "image" or "image[]"
// as a Base64 data URI, per OpenAI's multi-file edits convention.
func readEditImages(form *multipart.Form) ([]string, error) {
	if form == nil {
		return nil, nil
	}
	var out []string
	for _, key := range []string{"image", "image[]"} {
		for _, fh := range form.File[key] {
			uri, err := dataURIFromFileHeader(fh)
			if err != nil {
				return nil, err
			}
			out = append(out, uri)
		}
	}
	return out, nil
}

func dataURIFromFileHeader(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxEditUpload))
	if err != nil {
		return "", err
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" {
		if format := imageutil.DetectFormat(data); format != "" {
			mime = format.MIME()
		} else {
			mime = "image/png"
		}
	}
	return imageutil.BuildDataURI(data, mime), nil
}
