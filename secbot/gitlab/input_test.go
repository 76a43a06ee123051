package gitlab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/common/models"
	"github.com/secstack/secbot/secbot"
)

type fakeCheckStore struct {
	check *models.Check
}

func (f *fakeCheckStore) GetByExternalID(context.Context, string) (*models.Check, error) {
	return f.check, nil
}

func (f *fakeCheckStore) GetOrCreate(_ context.Context, initial *models.Check) (*models.Check, error) {
	if f.check == nil {
		initial.ID = 1
		f.check = initial
	}
	return f.check, nil
}

type fakeScanStore struct {
	scans []*models.Scan
}

func (f *fakeScanStore) ListByCheck(context.Context, int64) ([]*models.Scan, error) {
	return f.scans, nil
}
func (f *fakeScanStore) Start(context.Context, int64, string) (*models.Scan, error) { return nil, nil }
func (f *fakeScanStore) Complete(context.Context, int64, string, any) error         { return nil }
func (f *fakeScanStore) SetStatus(context.Context, int64, models.ScanStatus) error  { return nil }
func (f *fakeScanStore) SetResponse(context.Context, int64, []byte) error           { return nil }
func (f *fakeScanStore) GetByName(context.Context, int64, string) (*models.Scan, error) {
	return nil, nil
}

type verdictScanHandler struct{}

func (verdictScanHandler) Run(context.Context, *secbot.Invocation) (any, error) { return nil, nil }
func (verdictScanHandler) OnFailure(context.Context, *secbot.Invocation, error) error {
	return nil
}

type verdictOutputHandler struct {
	verdictScanHandler
	valid    bool
	requests []*secbot.StatusRequest
}

func (h *verdictOutputHandler) FetchStatus(_ context.Context, req *secbot.StatusRequest) (bool, error) {
	h.requests = append(h.requests, req)
	return h.valid, nil
}

var verdictOutput = &verdictOutputHandler{valid: true}

func init() {
	secbot.RegisterScanHandler(InputName, "verdictscan", func(*secbot.Deps) secbot.ScanHandler {
		return verdictScanHandler{}
	})
	secbot.RegisterOutputHandler(InputName, "verdictout", func(*secbot.Deps) secbot.OutputHandler {
		return verdictOutput
	})
}

const verdictWorkflow = `
version: "1.0"
components:
  secrets:
    handler_name: verdictscan
  sast:
    handler_name: verdictscan
  dojo:
    handler_name: verdictout
jobs:
  - name: verdict
    rules:
      gitlab:
        project.path_with_namespace: ".*"
    scans: [secrets, sast]
    outputs: [dojo]
    notifications: []
`

func verdictInput(t *testing.T, checks *fakeCheckStore, scans *fakeScanStore) *Input {
	t.Helper()
	cfg, err := secbot.ParseConfig([]byte(verdictWorkflow), func(string) (string, bool) {
		return "", true
	})
	require.NoError(t, err)

	log := logger.New("error", "json")
	input, err := NewInput(secbot.NewRuntime(cfg, nil, log), &secbot.Deps{
		Log:    log,
		Checks: checks,
		Scans:  scans,
	})
	require.NoError(t, err)
	return input
}

func scanRow(name string, status models.ScanStatus, outputs map[string]any) *models.Scan {
	return &models.Scan{ScanName: name, Status: status, OutputsTestID: outputs}
}

func TestFetchStatusVerdicts(t *testing.T) {
	event := []byte(`{"project": {"path_with_namespace": "mike/diaspora"}}`)
	check := &models.Check{ID: 1, ExternalID: "gl_abc", EventJSON: event, CommitHash: "deadbeef"}
	withDojo := map[string]any{"dojo": 42}

	tests := []struct {
		name  string
		scans []*models.Scan
		want  models.SecurityCheckStatus
	}{
		{
			name: "no scan rows yet",
			want: models.CheckStatusInProgress,
		},
		{
			name:  "one of two rows",
			scans: []*models.Scan{scanRow("secrets", models.ScanStatusInProgress, nil)},
			want:  models.CheckStatusInProgress,
		},
		{
			name: "more rows than configured",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusDone, withDojo),
				scanRow("sast", models.ScanStatusDone, withDojo),
				scanRow("extra", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusError,
		},
		{
			name: "error beats in progress",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusInProgress, nil),
				scanRow("sast", models.ScanStatusError, nil),
			},
			want: models.CheckStatusError,
		},
		{
			name: "still running",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusInProgress, nil),
				scanRow("sast", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusInProgress,
		},
		{
			name: "stuck in new",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusNew, nil),
				scanRow("sast", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusError,
		},
		{
			name: "all skipped",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusSkip, nil),
				scanRow("sast", models.ScanStatusSkip, nil),
			},
			want: models.CheckStatusSuccess,
		},
		{
			name: "skip plus done passing",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusSkip, nil),
				scanRow("sast", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusSuccess,
		},
		{
			name: "findings fail policy",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusDone, withDojo),
				scanRow("sast", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusFail,
		},
		{
			name: "all done passing",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusDone, withDojo),
				scanRow("sast", models.ScanStatusDone, withDojo),
			},
			want: models.CheckStatusSuccess,
		},
		{
			name: "done but nothing ingested",
			scans: []*models.Scan{
				scanRow("secrets", models.ScanStatusDone, nil),
				scanRow("sast", models.ScanStatusDone, nil),
			},
			want: models.CheckStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdictOutput.valid = tt.want != models.CheckStatusFail
			verdictOutput.requests = nil

			input := verdictInput(t, &fakeCheckStore{check: check}, &fakeScanStore{scans: tt.scans})
			got, err := input.FetchStatus(context.Background(), check.ExternalID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchStatusUnknownCheck(t *testing.T) {
	input := verdictInput(t, &fakeCheckStore{}, &fakeScanStore{})

	got, err := input.FetchStatus(context.Background(), "gl_missing")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusNotStarted, got)
}

func TestFetchStatusStoredEventNoLongerMatches(t *testing.T) {
	// The stored event has no project path, so no job matches it anymore
	check := &models.Check{ID: 1, ExternalID: "gl_abc", EventJSON: []byte(`{}`)}
	input := verdictInput(t, &fakeCheckStore{check: check}, &fakeScanStore{})

	got, err := input.FetchStatus(context.Background(), check.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusError, got)
}

func TestFetchStatusSkippedScansNotEligible(t *testing.T) {
	event := []byte(`{"project": {"path_with_namespace": "mike/diaspora"}}`)
	check := &models.Check{ID: 1, ExternalID: "gl_abc", EventJSON: event, CommitHash: "deadbeef"}
	scans := []*models.Scan{
		scanRow("secrets", models.ScanStatusSkip, nil),
		scanRow("sast", models.ScanStatusDone, map[string]any{"dojo": 42}),
	}

	verdictOutput.valid = true
	verdictOutput.requests = nil
	input := verdictInput(t, &fakeCheckStore{check: check}, &fakeScanStore{scans: scans})

	got, err := input.FetchStatus(context.Background(), check.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusSuccess, got)

	require.Len(t, verdictOutput.requests, 1)
	req := verdictOutput.requests[0]
	require.Len(t, req.EligibleScans, 1)
	assert.Equal(t, "sast", req.EligibleScans[0].Name)
	assert.Equal(t, "deadbeef", req.CommitHash)
}
