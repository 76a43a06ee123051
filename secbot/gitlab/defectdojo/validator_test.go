package defectdojo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/secbot/secbot"
)

func TestFindingRecordIsActive(t *testing.T) {
	active := FindingRecord{Active: true}
	assert.True(t, active.IsActive())

	inactive := FindingRecord{Active: false}
	assert.False(t, inactive.IsActive())

	// A duplicate inherits the state of its original, not its own
	dupOfInactive := FindingRecord{Active: true, Duplicate: &DuplicateFinding{Active: false}}
	assert.False(t, dupOfInactive.IsActive())

	dupOfActive := FindingRecord{Active: false, Duplicate: &DuplicateFinding{Active: true}}
	assert.True(t, dupOfActive.IsActive())
}

func TestGitleaksValidator(t *testing.T) {
	validator := scanValidators["gitleaks"]
	require.NotNil(t, validator)

	assert.True(t, validator(nil))
	assert.True(t, validator([]FindingRecord{
		{ScanName: "gitleaks", Active: false},
		{ScanName: "gitleaks", Active: true, Duplicate: &DuplicateFinding{Active: false}},
	}))
	assert.False(t, validator([]FindingRecord{
		{ScanName: "gitleaks", Active: false},
		{ScanName: "gitleaks", Active: true},
	}))
}

func findingsServer(t *testing.T, resp FindingsResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/findings/", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "deadbeef", r.URL.Query().Get("test__tags"))
		assert.Equal(t, "true", r.URL.Query().Get("related_fields"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func gitleaksFinding(active bool, duplicateID *int64) Finding {
	f := Finding{Active: active, Severity: "High", DuplicateFinding: duplicateID}
	f.RelatedFields.Test.TestType.Name = "Gitleaks Scan"
	return f
}

func TestValidatorIsValid(t *testing.T) {
	eligible := []secbot.Component{{Name: "gitleaks", HandlerName: "gitleaks"}}

	t.Run("all findings inactive", func(t *testing.T) {
		srv := findingsServer(t, FindingsResponse{
			Results: []Finding{gitleaksFinding(false, nil)},
		})
		defer srv.Close()

		client := NewClient(srv.URL, "secret", 5*time.Second)
		creds := &Credentials{URL: srv.URL, SecretKey: "secret"}
		valid, err := NewValidator(client, creds, "deadbeef", eligible).IsValid(context.Background())
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("active finding fails", func(t *testing.T) {
		srv := findingsServer(t, FindingsResponse{
			Results: []Finding{gitleaksFinding(true, nil)},
		})
		defer srv.Close()

		client := NewClient(srv.URL, "secret", 5*time.Second)
		creds := &Credentials{URL: srv.URL, SecretKey: "secret"}
		valid, err := NewValidator(client, creds, "deadbeef", eligible).IsValid(context.Background())
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("duplicate of inactive original passes", func(t *testing.T) {
		duplicateID := int64(11)
		resp := FindingsResponse{
			Results: []Finding{gitleaksFinding(true, &duplicateID)},
		}
		resp.Prefetch.DuplicateFinding = map[string]DuplicateFinding{
			"11": {Active: false, Severity: "High"},
		}
		srv := findingsServer(t, resp)
		defer srv.Close()

		client := NewClient(srv.URL, "secret", 5*time.Second)
		creds := &Credentials{URL: srv.URL, SecretKey: "secret"}
		valid, err := NewValidator(client, creds, "deadbeef", eligible).IsValid(context.Background())
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("scan not eligible is skipped", func(t *testing.T) {
		srv := findingsServer(t, FindingsResponse{
			Results: []Finding{gitleaksFinding(true, nil)},
		})
		defer srv.Close()

		client := NewClient(srv.URL, "secret", 5*time.Second)
		creds := &Credentials{URL: srv.URL, SecretKey: "secret"}
		valid, err := NewValidator(client, creds, "deadbeef", nil).IsValid(context.Background())
		require.NoError(t, err)
		assert.True(t, valid)
	})
}
