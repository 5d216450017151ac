package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// handleChatCompletions implements the chat-completions compatibility
// surface (spec.md §9): a request is routed to image generation whenever
// its last user message is image-less (text-to-image) or carries input
// images (multi-image fusion); the rendered images come back as
// Markdown references in the assistant's message content.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	auth, err := s.classify(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req chatCompletionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg := lastUserMessage(req.Messages)
	prompt, images := extractPromptAndImages(msg)

	task := imggateway.TaskText
	if len(images) > 0 {
		task = imggateway.TaskBlend
	}

	n := req.N
	if n < 1 {
		n = 1
	}

	ctx, cancel := contextWithAPITimeout(r, s.apiTimeout())
	defer cancel()

	outcome, err := s.runGeneration(ctx, auth, generationRequest{
		Task:        task,
		Prompt:      prompt,
		ChatContext: prompt,
		Images:      images,
		Model:       req.Model,
		Size:        req.Size,
		N:           n,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	content := renderMarkdownImages(outcome.Images)

	if !req.Stream {
		writeJSON(w, http.StatusOK, chatCompletionsResponse{
			ID:      chatCompletionID(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []chatChoice{{
				Index:   0,
				Message: chatChoiceMessage{Role: "assistant", Content: content},
			}},
		})
		return
	}

	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	id := chatCompletionID()
	created := time.Now().Unix()

	writeChunk(w, chatCompletionsChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []chatStreamChoice{{Index: 0, Delta: chatDelta{Content: content}}},
	})
	if flusher != nil {
		flusher.Flush()
	}

	stop := "stop"
	writeChunk(w, chatCompletionsChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []chatStreamChoice{{Index: 0, Delta: chatDelta{}, FinishReason: &stop}},
	})
	if flusher != nil {
		flusher.Flush()
	}

	writeSSEDone(w)
	if flusher != nil {
		flusher.Flush()
	}
}

// renderMarkdownImages folds every output image into a single Markdown
// block, one reference per line, numbered from 1.
func renderMarkdownImages(images []imageDataItem) string {
	var sb strings.Builder
	for i, img := range images {
		target := img.URL
		if target == "" && img.B64JSON != "" {
			target = fmt.Sprintf("data:image/png;base64,%s", img.B64JSON)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "![image%d](%s)", i+1, target)
	}
	return sb.String()
}

func chatCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeChunk(w http.ResponseWriter, chunk chatCompletionsChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("httpapi: failed to encode stream chunk", "error", err)
		return
	}
	writeSSEData(w, data)
}
