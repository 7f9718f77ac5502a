package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/ragpipe/internal/model"
	"github.com/chatforge/ragpipe/internal/vectorstore"
)

func match(title, text string, idx int, score float32) vectorstore.Match {
	return vectorstore.Match{
		ID:    "c",
		Score: score,
		Text:  text,
		Meta:  vectorstore.Metadata{DocumentID: "d1", ChunkIndex: idx, SourceTitle: title},
	}
}

func TestComposeIncludesContextHistoryAndQuery(t *testing.T) {
	composer := newPromptComposer(0)
	prompt := composer.Compose("what is the answer",
		[]vectorstore.Match{match("guide", "the answer is forty two", 0, 0.9)},
		[]model.Message{
			{Sender: model.SenderUser, Content: "earlier question"},
			{Sender: model.SenderAI, Content: "earlier reply"},
		})

	require.Contains(t, prompt, "the answer is forty two")
	require.Contains(t, prompt, "User: earlier question")
	require.Contains(t, prompt, "Assistant: earlier reply")
	require.Contains(t, prompt, "User question: what is the answer")
}

func TestComposeDropsLowRankedChunksFirst(t *testing.T) {
	composer := newPromptComposer(60)
	big := strings.Repeat("word ", 40)
	prompt := composer.Compose("query",
		[]vectorstore.Match{
			match("a", "top ranked passage", 0, 0.9),
			match("b", big, 1, 0.5),
		}, nil)

	require.Contains(t, prompt, "top ranked passage")
	require.NotContains(t, prompt, big)
}

func TestComposeTruncatesOldestHistoryFirst(t *testing.T) {
	composer := newPromptComposer(40)
	old := strings.Repeat("ancient ", 30)
	prompt := composer.Compose("query", nil, []model.Message{
		{Sender: model.SenderUser, Content: old},
		{Sender: model.SenderUser, Content: "recent turn"},
	})

	require.Contains(t, prompt, "recent turn")
	require.NotContains(t, prompt, old)
}

func TestComposeNeverDropsUserQuery(t *testing.T) {
	composer := newPromptComposer(1)
	prompt := composer.Compose("the question survives", nil, nil)
	require.Contains(t, prompt, "User question: the question survives")
}

func TestComposeHistoryStaysChronological(t *testing.T) {
	composer := newPromptComposer(0)
	prompt := composer.Compose("q", nil, []model.Message{
		{Sender: model.SenderUser, Content: "first"},
		{Sender: model.SenderAI, Content: "second"},
	})
	require.Less(t, strings.Index(prompt, "first"), strings.Index(prompt, "second"))
}
