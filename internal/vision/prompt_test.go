package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderPrompt(t *testing.T) {
	rendered := RenderPrompt(
		"Classify into one of: {{classifications}}. Go.",
		[]string{"Living Things", "Actions"},
	)
	assert.Equal(t, `Classify into one of: "Living Things", "Actions". Go.`, rendered)
}

func TestRenderPromptReplacesEveryOccurrence(t *testing.T) {
	rendered := RenderPrompt("{{classifications}} / {{classifications}}", []string{"A"})
	assert.Equal(t, `"A" / "A"`, rendered)
}

func TestDefaultPromptTemplateHasPlaceholder(t *testing.T) {
	assert.Contains(t, defaultPromptTemplate, classificationsPlaceholder)
}
