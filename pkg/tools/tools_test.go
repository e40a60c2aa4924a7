package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSaver struct {
	saved []map[string]string
	err   error
}

func (f *fakeSaver) SaveVisitorMessage(message, name, email, conversationID, ipHash string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, map[string]string{
		"message": message, "name": name, "email": email,
		"conversation": conversationID, "ip_hash": ipHash,
	})
	return "abc123def456", nil
}

func TestParseCalls(t *testing.T) {
	output := "Sure, I'll save that.\n```tool_call\n{\"tool\": \"save_message_for_kellogg\", \"parameters\": {\"message\": \"hi Kel\", \"visitor_name\": \"Ada\"}}\n```\nDone."

	calls := ParseCalls(output)
	require.Len(t, calls, 1)
	assert.Equal(t, SaveMessageTool, calls[0].Tool)
	assert.Equal(t, "hi Kel", calls[0].Parameters["message"])
}

func TestParseCallsSkipsMalformed(t *testing.T) {
	output := "```tool_call\n{not json}\n```"
	assert.Empty(t, ParseCalls(output))
	assert.Empty(t, ParseCalls("no tool calls here"))
}

func TestStripCalls(t *testing.T) {
	output := "Before.\n```tool_call\n{\"tool\": \"save_message_for_kellogg\", \"parameters\": {}}\n```\nAfter."
	stripped := StripCalls(output)
	assert.NotContains(t, stripped, "tool_call")
	assert.Contains(t, stripped, "Before.")
	assert.Contains(t, stripped, "After.")
}

func TestExecuteSaveMessage(t *testing.T) {
	saver := &fakeSaver{}
	exec := NewExecutor(saver, "conv-1", "deadbeef")

	result := exec.Execute(context.Background(), Call{
		Tool: SaveMessageTool,
		Parameters: map[string]interface{}{
			"message":       "please call me",
			"visitor_name":  "Ada",
			"visitor_email": "ada@example.com",
		},
	})

	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "abc123def456")
	require.Len(t, saver.saved, 1)
	assert.Equal(t, "conv-1", saver.saved[0]["conversation"])
	assert.Equal(t, "deadbeef", saver.saved[0]["ip_hash"])
}

func TestExecuteMissingMessage(t *testing.T) {
	exec := NewExecutor(&fakeSaver{}, "conv-1", "hash")
	result := exec.Execute(context.Background(), Call{Tool: SaveMessageTool})
	assert.False(t, result.Success)
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := NewExecutor(&fakeSaver{}, "conv-1", "hash")
	result := exec.Execute(context.Background(), Call{Tool: "delete_everything"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "unknown tool")
}

func TestExecuteSaveFailure(t *testing.T) {
	exec := NewExecutor(&fakeSaver{err: errors.New("disk full")}, "conv-1", "hash")
	result := exec.Execute(context.Background(), Call{
		Tool:       SaveMessageTool,
		Parameters: map[string]interface{}{"message": "hi"},
	})
	assert.False(t, result.Success)
	assert.NotContains(t, result.Message, "disk full")
}

func TestFormatResults(t *testing.T) {
	out := FormatResults([]Result{
		{Tool: SaveMessageTool, Success: true, Message: "message saved with id x"},
		{Tool: "other", Success: false, Message: "unknown tool"},
	})
	assert.Contains(t, out, "TOOL RESULTS:")
	assert.Contains(t, out, "[SUCCESS]")
	assert.Contains(t, out, "[FAILED]")
	assert.Contains(t, out, "Do not emit another tool call")
}
