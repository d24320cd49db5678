package llm

import (
	"strings"
	"testing"

	"github.com/kbchat/backend/internal/document"
)

func TestBuildPrompt(t *testing.T) {
	chunks := []document.Chunk{{Text: "alpha"}, {Text: "beta"}}
	got := BuildPrompt(chunks, "What is alpha?")

	if !strings.Contains(got, "<context>\nalpha\n\nbeta\n</context>") {
		t.Errorf("context block not assembled as expected:\n%s", got)
	}
	if !strings.Contains(got, "Question: What is alpha?") {
		t.Errorf("question missing:\n%s", got)
	}
	if !strings.Contains(got, "just say that you don't know") {
		t.Error("instruction text missing")
	}
	if !strings.HasSuffix(got, "Assistant:") {
		t.Error("prompt must end with the assistant turn")
	}
}

func TestBuildPromptLeavesPlaceholdersInValues(t *testing.T) {
	chunks := []document.Chunk{{Text: "literal {question} in a document"}}
	got := BuildPrompt(chunks, "why {context}?")

	if !strings.Contains(got, "literal {question} in a document") {
		t.Error("chunk text was rewritten")
	}
	if !strings.Contains(got, "Question: why {context}?") {
		t.Error("question text was rewritten")
	}
}
