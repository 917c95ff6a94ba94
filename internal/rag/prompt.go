package rag

import (
	"fmt"
	"strings"

	"newsrag/internal/models"
)

// BuildContext renders search hits into the context block of the prompt.
// Result order is preserved so the model implicitly weights earlier, more
// similar articles higher.
func BuildContext(hits []models.SearchHit) string {
	blocks := make([]string, 0, len(hits))
	for _, h := range hits {
		blocks = append(blocks, fmt.Sprintf(
			"Title: %s\nContent: %s\nSource: %s\nLink: %s",
			h.Payload.Title, h.Payload.Content, h.Payload.Source, h.Payload.Link,
		))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt assembles the grounded generation prompt. The instruction
// pins the model to the supplied articles and tells it to admit when the
// context has nothing relevant.
func BuildPrompt(query, context string) string {
	return fmt.Sprintf(
		"Based on the following news context, answer the user's query.\n\n"+
			"Context:\n%s\n\n"+
			"User Query: %s\n\n"+
			"Answer using only the news articles provided above. "+
			"If the context does not contain relevant information, say so.",
		context, query,
	)
}
