package httpapi

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lianwusuoai/img-router/internal/imageutil"
)

// markdownImagePattern matches Markdown image references: ![alt](target).
// target may be an http(s) URL or a data URI.
var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)

// lastUserMessage returns the last message with role "user", or nil.
func lastUserMessage(messages []chatMessage) *chatMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return &messages[i]
		}
	}
	return nil
}

// extractPromptAndImages implements stage 4's duck-typed content parsing:
// content may be a plain string, an array of content parts (OpenAI
// standard image_url items plus text), or a single non-standard
// {type:"image", image:<base64>, mediaType:...} object. Markdown image
// references embedded in any text segment are also collected as inputs.
func extractPromptAndImages(msg *chatMessage) (prompt string, images []string) {
	if msg == nil {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(msg.Content, &asString); err == nil {
		prompt = asString
		images = append(images, extractMarkdownImages(asString)...)
		return prompt, images
	}

	var asParts []contentPart
	if err := json.Unmarshal(msg.Content, &asParts); err == nil {
		var sb strings.Builder
		for _, part := range asParts {
			switch {
			case part.Type == "text" || (part.Type == "" && part.Text != ""):
				sb.WriteString(part.Text)
				images = append(images, extractMarkdownImages(part.Text)...)
			case part.Type == "image_url" && part.ImageURL != nil:
				images = append(images, part.ImageURL.URL)
			case part.Type == "image" && part.Image != "":
				images = append(images, normalizeVendorImage(part.Image, part.MediaType))
			}
		}
		return sb.String(), images
	}

	var asPart contentPart
	if err := json.Unmarshal(msg.Content, &asPart); err == nil {
		if asPart.Type == "image" && asPart.Image != "" {
			images = append(images, normalizeVendorImage(asPart.Image, asPart.MediaType))
		}
		return asPart.Text, images
	}

	return "", nil
}

// normalizeVendorImage folds the non-standard {type:"image", image:...}
// shape into a standard data URI. image is already Base64 payload text;
// mediaType defaults to image/png when unset.
func normalizeVendorImage(image, mediaType string) string {
	if imageutil.IsDataURI(image) {
		return image
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, image)
}

func extractMarkdownImages(text string) []string {
	matches := markdownImagePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
