package service

import (
	"fmt"
	"strings"

	"github.com/chatforge/ragpipe/internal/ai"
	"github.com/chatforge/ragpipe/internal/model"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

const (
	DefaultPromptBudget = 6000

	promptHeader = "You are a helpful assistant. Answer using the provided context passages. " +
		"If the context does not contain the answer, say so instead of guessing."
)

// promptComposer assembles the generation prompt under a token budget.
// Priority when over budget: drop the lowest-ranked chunks first, then the
// oldest history turns. The current user message is never dropped.
type promptComposer struct {
	budget int
}

func newPromptComposer(budget int) *promptComposer {
	if budget <= 0 {
		budget = DefaultPromptBudget
	}
	return &promptComposer{budget: budget}
}

func (p *promptComposer) Compose(query string, matches []vectorstore.Match, history []model.Message) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	sb.WriteString("\n\n")

	used := ai.EstimateTokens(promptHeader)
	queryBlock := "User question: " + query
	used += ai.EstimateTokens(queryBlock)

	var contextBlocks []string
	for _, m := range matches {
		block := fmt.Sprintf("[%s #%d] %s", m.Meta.SourceTitle, m.Meta.ChunkIndex+1, m.Text)
		cost := ai.EstimateTokens(block)
		if used+cost > p.budget {
			break
		}
		contextBlocks = append(contextBlocks, block)
		used += cost
	}

	// History is spent from the newest turn backwards so truncation always
	// removes the oldest turns.
	var historyLines []string
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		line := fmt.Sprintf("%s: %s", historyLabel(msg.Sender), msg.Content)
		cost := ai.EstimateTokens(line)
		if used+cost > p.budget {
			break
		}
		historyLines = append(historyLines, line)
		used += cost
	}

	if len(contextBlocks) > 0 {
		sb.WriteString("Context passages:\n")
		for _, block := range contextBlocks {
			sb.WriteString(block)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(historyLines) > 0 {
		sb.WriteString("Conversation so far:\n")
		for i := len(historyLines) - 1; i >= 0; i-- {
			sb.WriteString(historyLines[i])
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(queryBlock)
	return sb.String()
}

func historyLabel(sender model.Sender) string {
	if sender == model.SenderAI {
		return "Assistant"
	}
	return "User"
}
