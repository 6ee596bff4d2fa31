package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Dataset Formats
// ============================================================================

// DatasetFormat selects the JSONL example the QA prompt asks the model to
// imitate.
type DatasetFormat string

const (
	// FormatChatMessages is the OpenAI chat fine-tune format.
	FormatChatMessages DatasetFormat = "chat_messages"
	// FormatPromptCompletion is the Replicate prompt/completion format.
	FormatPromptCompletion DatasetFormat = "prompt_completion"
)

// GPTDataFormat is one example line in the OpenAI chat format.
const GPTDataFormat = `{"messages": [` +
	`{"role": "system", "content": "You are an AI agent that's an expert at answering questions."}, ` +
	`{"role": "user", "content": "What's the capital of France?"}, ` +
	`{"role": "assistant", "content": "Paris, is the capital of France."}` +
	`]}`

// ReplicateFormat is one example line in the prompt/completion format.
const ReplicateFormat = `{"prompt": "What's the capital of France?", "completion": "Paris, is the capital of France"}`

// Example returns the example line for f.
func (f DatasetFormat) Example() string {
	if f == FormatPromptCompletion {
		return ReplicateFormat
	}
	return GPTDataFormat
}

// ============================================================================
// QA Pair Generation
// ============================================================================

// QAPairSystemPrompt is sent ahead of every generation request.
const QAPairSystemPrompt = `You are an AI assistant tasked with generating question and answer pairs for fine-tuning datasets.`

// QAPairPrompt builds the user prompt asking for numPairs question/answer
// lines about context.
//
// The model must answer with JSON lines only, one pair per line, separated
// by a blank line. Anything else is dropped by the dataset validator.
func QAPairPrompt(format DatasetFormat, context string, numPairs int) string {
	var sb strings.Builder
	sb.WriteString("Generate question and answer pairs for the given context using the given format. ")
	sb.WriteString("Only answer in the format with no other text. ")
	fmt.Fprintf(&sb, "You should create the following number of question/answer pairs: %d. ", numPairs)
	sb.WriteString("Return the question/answer pairs as JSONL with one JSON object per line and a blank line between objects. ")
	sb.WriteString("Each object should use the full context provided, a relevant question to the context and an answer to the question.\n\n")
	fmt.Fprintf(&sb, "Format:\n%s\n\n", format.Example())
	fmt.Fprintf(&sb, "Context:\n%s", context)
	return sb.String()
}

// ============================================================================
// Query
// ============================================================================

// DefaultSystemPrompt is used when a predict request carries none.
const DefaultSystemPrompt = "You are a helpful assistant"

// RAGPrompt wraps a question with retrieved context.
func RAGPrompt(context, input string) string {
	return "You are an assistant for question-answering tasks. Use the following pieces " +
		"of retrieved context to answer the question. If you don't know the answer, " +
		"just say that you don't know. Use three sentences maximum and keep the answer concise.\n\n" +
		"Question: " + input + "\n" +
		"Context: " + context + "\n" +
		"Answer:"
}
