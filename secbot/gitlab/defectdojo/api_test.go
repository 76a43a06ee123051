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
)

func TestImportScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/import-scan/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "7", r.FormValue("engagement"))
		assert.Equal(t, "Gitleaks Scan", r.FormValue("scan_type"))
		assert.Equal(t, "deadbeef", r.FormValue("tags"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "deadbeef_gitlab_gitleaks.json", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"test_id": 99})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 5*time.Second)
	testID, err := client.ImportScan(context.Background(), &ImportScanParams{
		EngagementID:    7,
		ScanType:        "Gitleaks Scan",
		Filename:        "deadbeef_gitlab_gitleaks.json",
		Content:         []byte(`[]`),
		ScanDate:        "2026-08-25",
		MinimumSeverity: "High",
		Tags:            []string{"deadbeef"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), testID)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "Invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad", 5*time.Second)
	_, err := client.ListProducts(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestResolveNamedPrefersExisting(t *testing.T) {
	id, err := resolveNamed(
		func() ([]NamedObject, error) {
			return []NamedObject{{ID: 1, Name: "other"}, {ID: 2, Name: "match"}}, nil
		},
		func(obj NamedObject) bool { return obj.Name == "match" },
		func() (int64, error) {
			t.Fatal("create must not be called when a match exists")
			return 0, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestResolveNamedCreates(t *testing.T) {
	id, err := resolveNamed(
		func() ([]NamedObject, error) { return nil, nil },
		func(NamedObject) bool { return true },
		func() (int64, error) { return 42, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
