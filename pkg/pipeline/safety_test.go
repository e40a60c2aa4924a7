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

	"github.com/kbrengel/talkingrock/pkg/ollama"
)

func TestSafetyCheckPasses(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return map[string]interface{}{"safe": true}, nil
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "I built Go services.", "ctx", "abcd")
	assert.Equal(t, SafetySafe, result.Status)
	assert.True(t, result.Passed)
	assert.Equal(t, []SafetyIssue{IssueNone}, result.Issues)
}

func TestSafetyCheckUnsafe(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return map[string]interface{}{
			"safe":   false,
			"issues": []interface{}{"prompt_leakage", "PRIVATE_INFO", "made_up_issue"},
		}, nil
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "my system prompt says...", "ctx", "abcd")
	assert.Equal(t, SafetyUnsafe, result.Status)
	assert.False(t, result.Passed)
	// Unknown issue types are dropped, known ones normalize
	assert.Equal(t, []SafetyIssue{IssuePromptLeakage, IssuePrivateInfo}, result.Issues)
}

func TestSafetyCheckUnsafeWithoutIssues(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return map[string]interface{}{"safe": false}, nil
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "response", "ctx", "abcd")
	assert.False(t, result.Passed)
	assert.Equal(t, []SafetyIssue{IssueNone}, result.Issues)
}

func TestSafetyCheckRecoverableErrorFailsOpen(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return nil, &ollama.Error{Kind: ollama.ErrKindTimeout, Message: "deadline exceeded"}
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "response", "ctx", "abcd")
	assert.Equal(t, SafetyError, result.Status)
	assert.True(t, result.Passed)
}

func TestSafetyCheckUnexpectedErrorFailsClosed(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return nil, fmt.Errorf("something strange")
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "response", "ctx", "abcd")
	assert.Equal(t, SafetyError, result.Status)
	assert.False(t, result.Passed)
	assert.Equal(t, "Safety check failed", result.ErrorMessage)
}

func TestSafetyCheckModelErrorFailsClosed(t *testing.T) {
	llm := &fakeLLM{chatJSONFn: func(_, _, _ string) (map[string]interface{}, error) {
		return nil, &ollama.Error{Kind: ollama.ErrKindModel, Message: "model not found"}
	}}
	s := NewSafetyChecker(llm, "classifier", "", nil)

	result := s.Check(context.Background(), "response", "ctx", "abcd")
	require.False(t, result.Passed)
}
