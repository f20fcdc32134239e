package vision

import "strings"

// classificationsPlaceholder is substituted with the configured
// classification set when the tagging prompt is rendered. Plain string
// replacement on purpose; this does not warrant a templating engine.
const classificationsPlaceholder = "{{classifications}}"

// defaultPromptTemplate is used when no template file is configured.
const defaultPromptTemplate = `Analyze this image and produce descriptive tags.

Rules:
- Each tag must be a single lowercase singular noun.
- Assign every tag exactly one classification from this list: {{classifications}}.
- Omit any classification that does not apply to the image.
- Respond with only a JSON object of the form:
  {"tags_with_classifications": [{"tag": "dog", "classification": "Living Things"}]}
`

// RenderPrompt substitutes the classification set into the template as a
// quoted, comma-separated list ("Living Things", "Actions").
func RenderPrompt(template string, classifications []string) string {
	quoted := make([]string, len(classifications))
	for i, c := range classifications {
		quoted[i] = `"` + c + `"`
	}
	return strings.ReplaceAll(template, classificationsPlaceholder, strings.Join(quoted, ", "))
}
