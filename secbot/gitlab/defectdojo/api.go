package defectdojo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a DefectDojo v2 API client scoped to one deployment.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given DefectDojo deployment.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// NamedObject is the common shape of product types, products and engagements.
type NamedObject struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Product  int64  `json:"product"`
	ProdType int64  `json:"prod_type"`
}

type listResponse struct {
	Count   int           `json:"count"`
	Results []NamedObject `json:"results"`
}

// Finding is one DefectDojo finding, with the related test type and the
// duplicate link prefetched.
type Finding struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Severity         string `json:"severity"`
	Active           bool   `json:"active"`
	DuplicateFinding *int64 `json:"duplicate_finding"`
	RelatedFields    struct {
		Test struct {
			TestType struct {
				Name string `json:"name"`
			} `json:"test_type"`
		} `json:"test"`
	} `json:"related_fields"`
}

// DuplicateFinding is the prefetched original a duplicate points at.
type DuplicateFinding struct {
	Active   bool   `json:"active"`
	Severity string `json:"severity"`
}

// FindingsResponse is the answer of the findings listing endpoint.
type FindingsResponse struct {
	Count    int       `json:"count"`
	Results  []Finding `json:"results"`
	Prefetch struct {
		DuplicateFinding map[string]DuplicateFinding `json:"duplicate_finding"`
	} `json:"prefetch"`
}

// FindingsQuery narrows a findings listing.
type FindingsQuery struct {
	Active        *bool
	Duplicate     *bool
	TestID        int64
	TestTags      []string
	RelatedFields bool
	Prefetch      []string
	Limit         int
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body io.Reader, contentType string, out any) error {
	endpoint := c.baseURL + "/api/v2/" + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("defectdojo: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("defectdojo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("defectdojo: %s %s: status %d: %s", method, path, resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("defectdojo: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.request(ctx, http.MethodGet, path, params, nil, "", out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("defectdojo: encode %s payload: %w", path, err)
	}
	return c.request(ctx, http.MethodPost, path, nil, bytes.NewReader(body), "application/json", out)
}

// ListProductTypes lists product types matching the name.
func (c *Client) ListProductTypes(ctx context.Context, name string) ([]NamedObject, error) {
	params := url.Values{"name": {name}, "limit": {"100"}}
	var resp listResponse
	if err := c.get(ctx, "product_types/", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// CreateProductType creates a product type and returns its id.
func (c *Client) CreateProductType(ctx context.Context, name string) (int64, error) {
	var created NamedObject
	err := c.post(ctx, "product_types/", map[string]any{"name": name}, &created)
	return created.ID, err
}

// ListProducts lists products matching the name.
func (c *Client) ListProducts(ctx context.Context, name string) ([]NamedObject, error) {
	params := url.Values{"name": {name}, "limit": {"100"}}
	var resp listResponse
	if err := c.get(ctx, "products/", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// CreateProduct creates a product under a product type and returns its id.
func (c *Client) CreateProduct(ctx context.Context, name, description string, productTypeID int64) (int64, error) {
	payload := map[string]any{
		"name":        name,
		"description": description,
		"prod_type":   productTypeID,
	}
	var created NamedObject
	err := c.post(ctx, "products/", payload, &created)
	return created.ID, err
}

// ListEngagements lists engagements matching the name.
func (c *Client) ListEngagements(ctx context.Context, name string) ([]NamedObject, error) {
	params := url.Values{"name": {name}, "limit": {"100"}}
	var resp listResponse
	if err := c.get(ctx, "engagements/", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Engagement describes a CI/CD engagement to create.
type Engagement struct {
	Name                      string `json:"name"`
	Product                   int64  `json:"product"`
	Lead                      string `json:"lead"`
	Status                    string `json:"status"`
	TargetStart               string `json:"target_start"`
	TargetEnd                 string `json:"target_end"`
	EngagementType            string `json:"engagement_type"`
	DeduplicationOnEngagement bool   `json:"deduplication_on_engagement"`
	BuildID                   string `json:"build_id"`
	CommitHash                string `json:"commit_hash"`
	Description               string `json:"description"`
	SourceCodeManagementURI   string `json:"source_code_management_uri"`
}

// CreateEngagement creates an engagement and returns its id.
func (c *Client) CreateEngagement(ctx context.Context, engagement *Engagement) (int64, error) {
	var created NamedObject
	err := c.post(ctx, "engagements/", engagement, &created)
	return created.ID, err
}

// ImportScanParams describe one report upload.
type ImportScanParams struct {
	EngagementID    int64
	ScanType        string
	Filename        string
	Content         []byte
	ScanDate        string
	MinimumSeverity string
	Tags            []string
}

type importScanResponse struct {
	TestID int64 `json:"test_id"`
}

// ImportScan uploads a report into an engagement and returns the created
// test id.
func (c *Client) ImportScan(ctx context.Context, params *ImportScanParams) (int64, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		"engagement":         strconv.FormatInt(params.EngagementID, 10),
		"scan_type":          params.ScanType,
		"active":             "true",
		"verified":           "false",
		"close_old_findings": "false",
		"skip_duplicates":    "false",
		"scan_date":          params.ScanDate,
		"minimum_severity":   params.MinimumSeverity,
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return 0, fmt.Errorf("defectdojo: write form field %s: %w", name, err)
		}
	}
	for _, tag := range params.Tags {
		if err := form.WriteField("tags", tag); err != nil {
			return 0, fmt.Errorf("defectdojo: write form field tags: %w", err)
		}
	}

	file, err := form.CreateFormFile("file", params.Filename)
	if err != nil {
		return 0, fmt.Errorf("defectdojo: create form file: %w", err)
	}
	if _, err := file.Write(params.Content); err != nil {
		return 0, fmt.Errorf("defectdojo: write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("defectdojo: close form: %w", err)
	}

	var resp importScanResponse
	if err := c.request(ctx, http.MethodPost, "import-scan/", nil, &buf, form.FormDataContentType(), &resp); err != nil {
		return 0, err
	}
	return resp.TestID, nil
}

type testResponse struct {
	PercentComplete int `json:"percent_complete"`
}

// TestProgress returns the processing progress of a test in percent.
func (c *Client) TestProgress(ctx context.Context, testID int64) (int, error) {
	var resp testResponse
	if err := c.get(ctx, fmt.Sprintf("tests/%d/", testID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.PercentComplete, nil
}

// ListFindings lists findings narrowed by the query.
func (c *Client) ListFindings(ctx context.Context, query *FindingsQuery) (*FindingsResponse, error) {
	params := url.Values{}
	if query.Active != nil {
		params.Set("active", strconv.FormatBool(*query.Active))
	}
	if query.Duplicate != nil {
		params.Set("duplicate", strconv.FormatBool(*query.Duplicate))
	}
	if query.TestID != 0 {
		params.Set("test", strconv.FormatInt(query.TestID, 10))
	}
	if len(query.TestTags) > 0 {
		params.Set("test__tags", strings.Join(query.TestTags, ","))
	}
	if query.RelatedFields {
		params.Set("related_fields", "true")
	}
	if len(query.Prefetch) > 0 {
		params.Set("prefetch", strings.Join(query.Prefetch, ","))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}

	var resp FindingsResponse
	if err := c.get(ctx, "findings/", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
