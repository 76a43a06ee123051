package gitlab

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/secbot/secbot"
)

func TestScanResultFileFilename(t *testing.T) {
	file := &ScanResultFile{
		CommitHash: "deadbeef",
		ScanName:   "gitleaks",
		Format:     "json",
	}
	assert.Equal(t, "deadbeef_gitlab_gitleaks.json", file.Filename())
}

func TestPayloadKindsRoundTrip(t *testing.T) {
	result := &ScanResult{
		ScanID:        42,
		HandlerName:   "gitleaks",
		ComponentName: "gitleaks",
		Input: InputData{
			CheckID: 7,
			Event:   EventPush,
			Payload: json.RawMessage(`{"ref": "refs/heads/main"}`),
		},
		File: ScanResultFile{
			CommitHash: "deadbeef",
			ScanName:   "gitleaks",
			Format:     "json",
			Content:    json.RawMessage(`[{"Description": "leak"}]`),
		},
	}

	reduced, err := secbot.Reduce(result)
	require.NoError(t, err)

	// The wire form must survive a JSON round trip, as the broker stores it
	encoded, err := json.Marshal(reduced)
	require.NoError(t, err)
	var wire any
	require.NoError(t, json.Unmarshal(encoded, &wire))

	revived, err := secbot.Revive(wire)
	require.NoError(t, err)

	got, ok := revived.(*ScanResult)
	require.True(t, ok)
	assert.Equal(t, result.ScanID, got.ScanID)
	assert.Equal(t, result.Input.CheckID, got.Input.CheckID)
	assert.Equal(t, result.Input.Event, got.Input.Event)
	assert.JSONEq(t, string(result.File.Content), string(got.File.Content))
}

func TestOutputResultKind(t *testing.T) {
	output := &OutputResult{
		HandlerName:   "defectdojo",
		ComponentName: "defectdojo",
		Response: OutputResponse{
			ProjectName: "example.com:mike/diaspora",
			ProjectURL:  "https://example.com/mike/diaspora",
			Findings: []OutputFinding{
				{Title: "Secret leaked", Severity: SeverityHigh, URL: "https://dojo/finding/1"},
			},
		},
	}

	reduced, err := secbot.Reduce(output)
	require.NoError(t, err)
	revived, err := secbot.Revive(reduced)
	require.NoError(t, err)

	got, ok := revived.(*OutputResult)
	require.True(t, ok)
	require.Len(t, got.Response.Findings, 1)
	assert.Equal(t, SeverityHigh, got.Response.Findings[0].Severity)
}
