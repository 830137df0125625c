package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// finalAnswerMarker matches on the reply itself so offsets stay valid for
// any text the model returns.
var finalAnswerMarker = regexp.MustCompile(`(?i)final answer:`)

const extractionSystemPrompt = `You are a data extractor. You are given text scraped from web pages.
Work only with that text. Never add facts from your own knowledge, and say so
when the text does not contain the requested information.
Finish with a line starting with "Final Answer:" followed by the extracted key
points in a clear, structured format.`

const extractionNudge = `Your previous reply contained no answer. Reply with "Final Answer:" followed by the key points extracted from the scraped content.`

const generationSystemPrompt = `You are an HTML expert who builds self-contained components using only the
data you are given. Never invent content and never use placeholders.`

func extractionPrompt(content, task string) string {
	var b strings.Builder
	b.WriteString("Extract the key information about the following task from the scraped content below.\n\n")
	fmt.Fprintf(&b, "TASK:\n%s\n\n", task)
	b.WriteString("SCRAPED CONTENT:\n")
	b.WriteString(content)
	b.WriteString("\n\nProvide the Final Answer with the extracted key points.")
	return b.String()
}

func generationPrompt(summary, title, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Using ONLY the data below, create HTML for: %s\n", title)
	fmt.Fprintf(&b, "User requirements: %s\n\n", description)
	b.WriteString("DATA:\n")
	b.WriteString(summary)
	b.WriteString("\n\nGenerate a complete standalone HTML document with internal CSS in a single ```html fenced block. ")
	b.WriteString("Use real data only, no placeholders.")
	return b.String()
}

// finalAnswer returns the text after the last "Final Answer:" marker, or the
// whole reply when there is no marker. The result is trimmed.
func finalAnswer(reply string) string {
	matches := finalAnswerMarker.FindAllStringIndex(reply, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(reply)
	}
	return strings.TrimSpace(reply[matches[len(matches)-1][1]:])
}
