package ai

import (
	"fmt"
	"strings"

	"github.com/thinkscotty/newsroom/internal/models"
)

// maxPromptContent caps the article text sent to the model.
const maxPromptContent = 12000

// BuildSimplifyPrompt constructs the prompt that rewrites an article into
// short slides.
func BuildSimplifyPrompt(topicName, title, content string, maxSlides int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are an editor for a local news service covering \"%s\".\n", topicName))
	sb.WriteString(fmt.Sprintf("Rewrite the article below as a short story of at most %d slides.\n", maxSlides))
	sb.WriteString("Each slide is one or two plain sentences a reader can take in at a glance. ")
	sb.WriteString("Keep names, places, dates and figures exactly as written. Do not add facts.\n\n")

	sb.WriteString("=== ARTICLE ===\n")
	if title != "" {
		sb.WriteString("TITLE: ")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}
	sb.WriteString(content)
	sb.WriteString("\n=== END ARTICLE ===\n\n")

	sb.WriteString("Return ONLY a JSON object of the form ")
	sb.WriteString(`{"title": "headline", "slides": ["first slide", "second slide"]}`)
	sb.WriteString(" with no other text.")
	return sb.String()
}

// BuildIllustratePrompt asks for one image description per slide.
func BuildIllustratePrompt(topicName, title string, slides []models.Slide) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are choosing illustrations for a local news story about \"%s\".\n", topicName))
	sb.WriteString(fmt.Sprintf("STORY: %s\n\n", title))
	for _, s := range slides {
		sb.WriteString(fmt.Sprintf("SLIDE %d: %s\n", s.SlideNumber, s.Content))
	}
	sb.WriteString(fmt.Sprintf("\nWrite exactly %d image descriptions, one per slide and in slide order. ", len(slides)))
	sb.WriteString("Describe a photograph or simple illustration; never depict identifiable real people.\n")
	sb.WriteString(`Return ONLY a JSON object of the form {"prompts": ["description for slide 1"]} with no other text.`)
	return sb.String()
}

// CleanJSONResponse strips markdown code fences from JSON responses.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// ExtractJSON attempts to extract a JSON object from a potentially messy AI
// response: as-is, then without markdown fences, then between the outermost braces.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if looksLikeJSON(raw) {
		return raw
	}

	cleaned := CleanJSONResponse(raw)
	if looksLikeJSON(cleaned) {
		return cleaned
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return cleaned
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
