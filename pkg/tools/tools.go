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

// Package tools lets the generator invoke a small set of side-effecting
// actions via fenced tool_call blocks in its output.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SaveMessageTool is the only tool exposed to the generator. It stores a
// visitor's message for the site owner.
const SaveMessageTool = "save_message_for_kellogg"

// Call is a parsed tool invocation from model output.
type Call struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Result is the outcome of executing one call.
type Result struct {
	Tool    string
	Success bool
	Message string
}

// callPattern matches ```tool_call fenced JSON blocks emitted by the model.
var callPattern = regexp.MustCompile("```tool_call\\s*\\n?\\s*(\\{[^`]+\\})\\s*\\n?```")

// ParseCalls extracts tool calls from model output. Malformed blocks are
// skipped rather than treated as errors; the model often gets the fencing
// right but the JSON wrong.
func ParseCalls(output string) []Call {
	var calls []Call
	for _, match := range callPattern.FindAllStringSubmatch(output, -1) {
		var call Call
		if err := json.Unmarshal([]byte(match[1]), &call); err != nil {
			continue
		}
		if call.Tool == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// StripCalls removes tool_call blocks from output so they never reach the
// visitor.
func StripCalls(output string) string {
	return strings.TrimSpace(callPattern.ReplaceAllString(output, ""))
}

// ContactSaver persists visitor messages. Satisfied by contact.Storage.
type ContactSaver interface {
	SaveVisitorMessage(message, name, email, conversationID, ipHash string) (string, error)
}

// Executor runs tool calls for a single request.
type Executor struct {
	saver          ContactSaver
	conversationID string
	ipHash         string
}

// NewExecutor binds an executor to the current request's identity.
func NewExecutor(saver ContactSaver, conversationID, ipHash string) *Executor {
	return &Executor{
		saver:          saver,
		conversationID: conversationID,
		ipHash:         ipHash,
	}
}

// Execute runs one call. Unknown tools fail; the failure text goes back to
// the model, not the visitor.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	switch call.Tool {
	case SaveMessageTool:
		return e.saveMessage(call)
	default:
		return Result{
			Tool:    call.Tool,
			Success: false,
			Message: fmt.Sprintf("unknown tool %q", call.Tool),
		}
	}
}

// ExecuteAll runs every call in order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.Execute(ctx, call))
	}
	return results
}

func (e *Executor) saveMessage(call Call) Result {
	message := stringParam(call.Parameters, "message")
	if message == "" {
		return Result{Tool: call.Tool, Success: false, Message: "message parameter is required"}
	}

	name := stringParam(call.Parameters, "visitor_name")
	email := stringParam(call.Parameters, "visitor_email")

	id, err := e.saver.SaveVisitorMessage(message, name, email, e.conversationID, e.ipHash)
	if err != nil {
		return Result{Tool: call.Tool, Success: false, Message: "failed to save message"}
	}
	return Result{Tool: call.Tool, Success: true, Message: fmt.Sprintf("message saved with id %s", id)}
}

// FormatResults builds the follow-up prompt section telling the model what
// its tool calls did.
func FormatResults(results []Result) string {
	var b strings.Builder
	b.WriteString("TOOL RESULTS:\n")
	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", r.Tool, status, r.Message)
	}
	b.WriteString("\nNow respond to the visitor based on these results. Do not emit another tool call.")
	return b.String()
}

// PromptSection describes the available tools for the generator's system
// prompt.
func PromptSection() string {
	return strings.TrimSpace(`
AVAILABLE TOOLS:
If the visitor wants to leave a message, emit a fenced block:
` + "```tool_call" + `
{"tool": "save_message_for_kellogg", "parameters": {"message": "...", "visitor_name": "...", "visitor_email": "..."}}
` + "```" + `
Only message is required. Use a tool call only when the visitor clearly asks to leave a message.`)
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
