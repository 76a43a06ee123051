package secbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowYAML = `
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
    config:
      format: json
  defectdojo:
    handler_name: defectdojo
    env:
      url: DD_URL
      secret_key: DD_TOKEN
  slack:
    handler_name: slack
    config:
      render_limit: 10
      channels: ["#alerts"]
    env:
      token: SLACK_TOKEN
jobs:
  - name: Check team repos
    rules:
      gitlab:
        project.path_with_namespace: "team/.*"
    scans: [gitleaks]
    outputs: [defectdojo]
    notifications: [slack]
`

func testEnv(t *testing.T) LookupEnvFunc {
	t.Helper()
	env := map[string]string{
		"DD_URL":      "https://dojo.example.com",
		"DD_TOKEN":    "secret",
		"SLACK_TOKEN": "xoxb-test",
	}
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(workflowYAML), testEnv(t))
	require.NoError(t, err)

	jobs := cfg.Jobs("gitlab")
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "Check team repos", job.Name)
	assert.Equal(t, "gitlab", job.InputName)
	require.Len(t, job.Scans, 1)
	assert.Equal(t, "gitleaks", job.Scans[0].HandlerName)
	assert.Equal(t, "json", job.Scans[0].Config["format"])

	require.Len(t, job.Outputs, 1)
	assert.Equal(t, "https://dojo.example.com", job.Outputs[0].Env["url"])
	assert.Equal(t, "secret", job.Outputs[0].Env["secret_key"])

	require.Len(t, job.Notifications, 1)
	assert.Equal(t, "xoxb-test", job.Notifications[0].Env["token"])
}

func TestParseConfigVersionGate(t *testing.T) {
	_, err := ParseConfig([]byte("components: {}\njobs: []"), testEnv(t))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "version is not specified")

	_, err = ParseConfig([]byte(`version: "2.0"`), testEnv(t))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "unsupported config version")
}

func TestParseConfigMissingEnv(t *testing.T) {
	_, err := ParseConfig([]byte(workflowYAML), func(string) (string, bool) {
		return "", false
	})
	require.ErrorIs(t, err, ErrConfigMissingEnv)
	// A missing env var is still a config error
	require.ErrorIs(t, err, ErrConfig)
}

func TestParseConfigEmpty(t *testing.T) {
	_, err := ParseConfig([]byte(`
version: "1.0"
components: {}
jobs: []
`), testEnv(t))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "no components")

	_, err = ParseConfig([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs: []
`), testEnv(t))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "no jobs")
}

func TestParseConfigUnknownComponent(t *testing.T) {
	_, err := ParseConfig([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs:
  - name: broken
    rules:
      gitlab:
        ref: ".*"
    scans: [nosuch]
    outputs: []
    notifications: []
`), testEnv(t))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "unknown component")
}

func TestMatchingJob(t *testing.T) {
	cfg, err := ParseConfig([]byte(workflowYAML), testEnv(t))
	require.NoError(t, err)

	event := []byte(`{"project": {"path_with_namespace": "team/api"}}`)
	job, err := cfg.MatchingJob("gitlab", event)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "Check team repos", job.Name)

	// The rule is a full match: a prefix hit is not enough
	event = []byte(`{"project": {"path_with_namespace": "other/team/api"}}`)
	job, err = cfg.MatchingJob("gitlab", event)
	require.NoError(t, err)
	assert.Nil(t, job)

	// Absent rule path never matches
	event = []byte(`{"ref": "refs/heads/main"}`)
	job, err = cfg.MatchingJob("gitlab", event)
	require.NoError(t, err)
	assert.Nil(t, job)

	// Unknown input has no jobs
	job, err = cfg.MatchingJob("github", event)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMatchingJobMultipleMatches(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
version: "1.0"
components:
  gitleaks:
    handler_name: gitleaks
jobs:
  - name: first
    rules:
      gitlab:
        ref: ".*"
    scans: [gitleaks]
    outputs: []
    notifications: []
  - name: second
    rules:
      gitlab:
        ref: "refs/.*"
    scans: [gitleaks]
    outputs: []
    notifications: []
`), testEnv(t))
	require.NoError(t, err)

	_, err = cfg.MatchingJob("gitlab", []byte(`{"ref": "refs/heads/main"}`))
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "multiple jobs")
}
