// Copyright 2025 Kellogg Brengel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbrengel/talkingrock/pkg/tools"
)

func TestGenerateOutOfScopeSkipsModel(t *testing.T) {
	llm := &fakeLLM{}
	g := NewGenerator(llm, "generator", "", false)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "what's the weather?",
		Domain:  DomainOutOfScope,
	})
	assert.Equal(t, GenerateSuccess, result.Status)
	assert.False(t, result.UsedLLM)
	assert.Contains(t, result.Response, "general AI assistant")
	assert.Zero(t, llm.chatTextCalls)
}

func TestGenerateSuccess(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "I built several Go services at Kohler.", nil
	}}
	g := NewGenerator(llm, "generator", "", false)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "what did you build?",
		Domain:  DomainProfessional,
		Context: "## Resume\n\nWork history.",
	})
	assert.Equal(t, GenerateSuccess, result.Status)
	assert.True(t, result.UsedLLM)
	assert.Equal(t, "I built several Go services at Kohler.", result.Response)
}

func TestGenerateSpotlightsUserMessage(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "answer", nil
	}}
	g := NewGenerator(llm, "generator", "", false)

	g.Generate(context.Background(), GenerateOptions{
		Message: "tell me about your work",
		Domain:  DomainProfessional,
		Context: "trusted context",
	})

	assert.Contains(t, llm.lastUser, "CONTEXT ABOUT KEL:")
	assert.Contains(t, llm.lastUser, "<<<USER_MESSAGE>>>\ntell me about your work\n<<<END_USER_MESSAGE>>>")
	assert.Contains(t, llm.lastSystem, "DOMAIN: professional")
}

func TestGenerateIncludesRecentHistoryTruncated(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "answer", nil
	}}
	g := NewGenerator(llm, "generator", "", false)

	long := ""
	for i := 0; i < 40; i++ {
		long += "0123456789"
	}
	g.Generate(context.Background(), GenerateOptions{
		Message: "follow up",
		Domain:  DomainProjects,
		History: []HistoryMessage{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: long},
		},
	})

	assert.Contains(t, llm.lastUser, "RECENT CONVERSATION:")
	assert.Contains(t, llm.lastUser, "User: earlier question")
	assert.Contains(t, llm.lastUser, "You: "+long[:300]+"...")
}

func TestGenerateErrorFallsBack(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "", fmt.Errorf("connection refused")
	}}
	g := NewGenerator(llm, "generator", "", false)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "question",
		Domain:  DomainProjects,
	})
	assert.Equal(t, GenerateFailed, result.Status)
	assert.Equal(t, FallbackResponse(DomainProjects), result.Response)
}

func TestGenerateEmptyFallsBack(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "   \n ", nil
	}}
	g := NewGenerator(llm, "generator", "", false)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "question",
		Domain:  DomainHobbies,
	})
	assert.Equal(t, GenerateEmpty, result.Status)
	assert.Equal(t, FallbackResponse(DomainHobbies), result.Response)
}

func TestGenerateParsesToolCalls(t *testing.T) {
	output := "I'll save that for you.\n```tool_call\n{\"tool\": \"save_message_for_kellogg\", \"parameters\": {\"message\": \"hi Kel\"}}\n```"
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return output, nil
	}}
	g := NewGenerator(llm, "generator", "", true)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "tell Kellogg I said hi",
		Domain:  DomainLinkedIn,
	})
	assert.Equal(t, GenerateToolCall, result.Status)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, tools.SaveMessageTool, result.ToolCalls[0].Tool)
	assert.Equal(t, "I'll save that for you.", result.Response)
	assert.Contains(t, llm.lastSystem, "AVAILABLE TOOLS")
}

func TestGenerateIgnoresToolCallsWhenDisabled(t *testing.T) {
	output := "text\n```tool_call\n{\"tool\": \"save_message_for_kellogg\", \"parameters\": {\"message\": \"x\"}}\n```"
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return output, nil
	}}
	g := NewGenerator(llm, "generator", "", false)

	result := g.Generate(context.Background(), GenerateOptions{
		Message: "hi",
		Domain:  DomainLinkedIn,
	})
	assert.Equal(t, GenerateSuccess, result.Status)
	assert.Empty(t, result.ToolCalls)
	assert.NotContains(t, llm.lastSystem, "AVAILABLE TOOLS")
}

func TestGenerateToolResultsPrompt(t *testing.T) {
	llm := &fakeLLM{chatTextFn: func(_, _, _ string) (string, error) {
		return "Your message is saved.", nil
	}}
	g := NewGenerator(llm, "generator", "", true)

	g.Generate(context.Background(), GenerateOptions{
		Message: "tell Kellogg hi",
		Domain:  DomainLinkedIn,
		ToolResults: []tools.Result{
			{Tool: tools.SaveMessageTool, Success: true, Message: "message saved with id abc"},
		},
	})
	assert.Contains(t, llm.lastUser, "TOOL RESULTS:")
	assert.Contains(t, llm.lastUser, "message saved with id abc")
	assert.NotContains(t, llm.lastUser, "Please respond to the user's question based on the context provided.")
}

func TestFallbackResponseUnknownDomain(t *testing.T) {
	assert.Equal(t, genericFallback, FallbackResponse(Domain("mystery")))
}
