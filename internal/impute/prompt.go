package impute

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You are an occupational classification analyst. Given a job title, its
occupational family, the definition of the unit group it belongs to, and any
attribute values already known, propose a value for each requested attribute.

Respond with a single JSON object and nothing else. Each key is one requested
attribute name; each value is an object with:
  "value":      the proposed attribute value as a string,
  "confidence": your confidence in the value, a number from 0 to 1,
  "rationale":  one or two sentences explaining the value.

Omit an attribute only if you cannot propose any value for it.`

// buildPrompt renders the user message for one entity.
func buildPrompt(req Request, maxKnown int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n", orNone(req.Title))
	fmt.Fprintf(&b, "Occupational family: %s\n", orNone(req.Family))
	fmt.Fprintf(&b, "Unit group: %s %s\n", req.Unit.Code, req.Unit.Title)
	if req.Unit.Definition != "" {
		fmt.Fprintf(&b, "Unit group definition: %s\n", req.Unit.Definition)
	}

	if len(req.Known) > 0 {
		names := make([]string, 0, len(req.Known))
		for name := range req.Known {
			names = append(names, name)
		}
		sort.Strings(names)
		if maxKnown > 0 && len(names) > maxKnown {
			names = names[:maxKnown]
		}
		b.WriteString("\nKnown attributes:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, req.Known[name])
		}
	}

	b.WriteString("\nRequested attributes:\n")
	for _, a := range req.Attributes {
		if d := req.Descriptions[a]; d != "" {
			fmt.Fprintf(&b, "- %s (%s)\n", a, d)
		} else {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
