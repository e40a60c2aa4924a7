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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverSuccess(t *testing.T) {
	d := NewDeliverer(nil)
	start := time.Now().Add(-50 * time.Millisecond)

	resp := d.DeliverSuccess("Here's my answer.", DomainProjects, "req-1", "conv-1", start, "abcd", map[string]time.Duration{
		"L0": 1 * time.Millisecond,
		"L6": 1500 * time.Millisecond,
	})

	assert.True(t, resp.Success)
	require.NotNil(t, resp.Response)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "Here's my answer.", resp.Response.Content)
	assert.Equal(t, "projects", resp.Response.Domain)

	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "req-1", resp.Metadata.RequestID)
	assert.Equal(t, "conv-1", resp.Metadata.ConversationID)
	assert.GreaterOrEqual(t, resp.Metadata.ResponseTimeMs, 50.0)
	assert.Equal(t, 1500.0, resp.Metadata.LayerTimingsMs["L6"])
}

func TestDeliverErrorCodes(t *testing.T) {
	d := NewDeliverer(nil)

	cases := []struct {
		errType ErrorType
		code    string
	}{
		{ErrRateLimited, "RATE_LIMITED"},
		{ErrInputTooLong, "INPUT_TOO_LONG"},
		{ErrBlockedInput, "BLOCKED_INPUT"},
		{ErrOutOfScope, "OUT_OF_SCOPE"},
		{ErrSafetyFailed, "SAFETY_FAILED"},
		{ErrInternalError, "INTERNAL_ERROR"},
		{ErrorType("mystery"), "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		resp := d.DeliverError(tc.errType, "req-1", "conv-1", time.Now(), "abcd", "L2", "")
		assert.False(t, resp.Success, "type %s", tc.errType)
		require.NotNil(t, resp.Error, "type %s", tc.errType)
		assert.Nil(t, resp.Response, "type %s", tc.errType)
		assert.Equal(t, tc.code, resp.Error.Code, "type %s", tc.errType)
		assert.NotEmpty(t, resp.Error.Message, "type %s", tc.errType)
	}
}

func TestDeliverErrorCustomMessage(t *testing.T) {
	d := NewDeliverer(nil)

	resp := d.DeliverError(ErrInputTooLong, "req-1", "conv-1", time.Now(), "abcd", "L1", "Maximum length is 2000 characters.")
	assert.Equal(t, "Maximum length is 2000 characters.", resp.Error.Message)
}

func TestDeliverEnvelopeJSONShape(t *testing.T) {
	d := NewDeliverer(nil)

	success := d.DeliverSuccess("hi", DomainMeta, "req-1", "conv-1", time.Now(), "abcd", nil)
	data, err := json.Marshal(success)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success":true`)
	assert.Contains(t, string(data), `"response"`)
	assert.NotContains(t, string(data), `"error"`)

	failure := d.DeliverError(ErrOutOfScope, "req-1", "conv-1", time.Now(), "abcd", "L4", "")
	data, err = json.Marshal(failure)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), `"error"`)
	assert.NotContains(t, string(data), `"response"`)
}

func TestCannedResponses(t *testing.T) {
	assert.Contains(t, CannedResponse("RATE_LIMITED"), "wait a moment")
	assert.Contains(t, CannedResponse("OUT_OF_SCOPE"), "general AI assistant")
	assert.Equal(t, "An error occurred. Please try again.", CannedResponse("NOT_A_CODE"))
}

func TestTimingsToMs(t *testing.T) {
	out := timingsToMs(map[string]time.Duration{
		"L1": 1234567 * time.Nanosecond,
		"L7": 0,
	})
	assert.Equal(t, 1.23, out["L1"])
	assert.Equal(t, 0.0, out["L7"])
}
