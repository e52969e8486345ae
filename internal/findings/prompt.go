package findings

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// promptElementLimit caps how many snapshot elements are embedded in the prompt
const promptElementLimit = 10

const responseShape = `{
  "summary": "two or three sentences on overall quality",
  "score": 0-100,
  "issues": [
    {
      "title": "short title",
      "description": "what is wrong and where",
      "severity": "low | medium | high",
      "category": "e.g. Layout, Accessibility, Conversion, Performance, SEO",
      "recommendation": "concrete fix"
    }
  ]
}`

// BuildPrompt renders the analysis prompt for one captured page
func BuildPrompt(url string, snapshot domain.Snapshot) string {
	elements := snapshot.Elements
	if len(elements) > promptElementLimit {
		elements = elements[:promptElementLimit]
	}
	if elements == nil {
		elements = []domain.Element{}
	}

	encoded, err := json.Marshal(elements)
	if err != nil {
		encoded = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("You are a senior web UX and conversion reviewer. Audit the page described below.\n\n")
	fmt.Fprintf(&b, "URL: %s\n", url)
	fmt.Fprintf(&b, "Title: %s\n", snapshot.Title)
	fmt.Fprintf(&b, "Has navigation: %t\n", snapshot.HasNavigation)
	fmt.Fprintf(&b, "Has header: %t\n", snapshot.HasHeader)
	fmt.Fprintf(&b, "Has footer: %t\n", snapshot.HasFooter)
	fmt.Fprintf(&b, "Has call to action: %t\n", snapshot.HasCTA)
	fmt.Fprintf(&b, "Forms: %d\n", snapshot.FormCount)
	fmt.Fprintf(&b, "Images: %d\n", snapshot.ImageCount)
	fmt.Fprintf(&b, "Top visible elements: %s\n\n", encoded)
	b.WriteString("Respond with a single JSON object and nothing else, in this shape:\n")
	b.WriteString(responseShape)
	b.WriteString("\n")

	return b.String()
}
