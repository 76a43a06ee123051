package defectdojo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/secbot/gitlab"
)

// Credentials is the env block of a defectdojo component.
type Credentials struct {
	URL       string `json:"url" validate:"required,url"`
	SecretKey string `json:"secret_key" validate:"required"`
	User      string `json:"user"`
	LeadID    string `json:"lead_id" validate:"required"`
}

// scanTypeByHandler maps workflow scan handler names to DefectDojo scan
// types for uploads.
var scanTypeByHandler = map[string]string{
	"gitleaks": "Gitleaks Scan",
}

// handlerByScanType is the reverse mapping, used when reading findings back.
var handlerByScanType = map[string]string{
	"Gitleaks Scan": "gitleaks",
}

const (
	// Test processing is polled this many times, this far apart, before
	// the upload is declared stuck.
	processingPolls    = 30
	processingInterval = 10 * time.Second

	// DefectDojo deduplicates asynchronously after processing completes.
	deduplicationWait = 2 * time.Minute

	findingsPageLimit = 500
)

// Prepare resolves (creating on first sight) the product type, product and
// engagement a report belongs to and returns the engagement id. The product
// type is the GitLab host, the product is the project path, the engagement
// is the event path.
func Prepare(ctx context.Context, client *Client, creds *Credentials, data gitlab.WebhookData, eventPath string, log *logger.Logger) (int64, error) {
	webURL, err := url.Parse(data.Project().WebURL)
	if err != nil || webURL.Hostname() == "" {
		return 0, fmt.Errorf("defectdojo: project web url %q has no host", data.Project().WebURL)
	}
	productType := webURL.Hostname()
	productName := data.Project().PathWithNamespace
	commit := data.LastCommit()

	productTypeID, err := resolveNamed(
		func() ([]NamedObject, error) { return client.ListProductTypes(ctx, productType) },
		func(obj NamedObject) bool { return obj.Name == productType },
		func() (int64, error) { return client.CreateProductType(ctx, productType) },
	)
	if err != nil {
		return 0, err
	}

	productID, err := resolveNamed(
		func() ([]NamedObject, error) { return client.ListProducts(ctx, productName) },
		func(obj NamedObject) bool { return obj.Name == productName && obj.ProdType == productTypeID },
		func() (int64, error) {
			return client.CreateProduct(ctx, productName, data.Project().WebURL, productTypeID)
		},
	)
	if err != nil {
		return 0, err
	}

	name := eventPath
	today := time.Now().Format("2006-01-02")
	engagementID, err := resolveNamed(
		func() ([]NamedObject, error) { return client.ListEngagements(ctx, name) },
		func(obj NamedObject) bool { return obj.Name == name && obj.Product == productID },
		func() (int64, error) {
			return client.CreateEngagement(ctx, &Engagement{
				Name:                      name,
				Product:                   productID,
				Lead:                      creds.LeadID,
				Status:                    "Completed",
				TargetStart:               today,
				TargetEnd:                 today,
				EngagementType:            "CI/CD",
				DeduplicationOnEngagement: false,
				BuildID:                   name,
				CommitHash:                commit.ID,
				Description:               fmt.Sprintf("Latest commit by %s", commit.Author.Email),
				SourceCodeManagementURI:   strings.Replace(commit.URL, "/-/commit/", "/-/blob/", 1),
			})
		},
	)
	if err != nil {
		return 0, err
	}

	log.Info("defectdojo engagement ready",
		"product_type", productType,
		"product_id", productID,
		"engagement_id", engagementID,
	)
	return engagementID, nil
}

// resolveNamed finds an object through list/match or creates it.
func resolveNamed(list func() ([]NamedObject, error), match func(NamedObject) bool, create func() (int64, error)) (int64, error) {
	objects, err := list()
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if match(obj) {
			return obj.ID, nil
		}
	}
	return create()
}

// Upload imports a scan report into the engagement, tagged with the commit
// hash so verdict queries can find every test of a check, and waits for
// DefectDojo to finish processing and deduplicating it.
func Upload(ctx context.Context, client *Client, engagementID int64, file *gitlab.ScanResultFile) (int64, error) {
	scanType, ok := scanTypeByHandler[file.ScanName]
	if !ok {
		scanType = file.ScanName
	}

	testID, err := client.ImportScan(ctx, &ImportScanParams{
		EngagementID:    engagementID,
		ScanType:        scanType,
		Filename:        file.Filename(),
		Content:         file.Content,
		ScanDate:        time.Now().Format("2006-01-02"),
		MinimumSeverity: "High",
		Tags:            []string{file.CommitHash},
	})
	if err != nil {
		return 0, err
	}

	if err := waitForProcessing(ctx, client, testID); err != nil {
		return 0, err
	}
	return testID, nil
}

func waitForProcessing(ctx context.Context, client *Client, testID int64) error {
	for i := 0; i < processingPolls; i++ {
		progress, err := client.TestProgress(ctx, testID)
		if err != nil {
			return err
		}
		if progress == 100 {
			return sleep(ctx, deduplicationWait)
		}
		if err := sleep(ctx, processingInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("defectdojo: took too much time to process test %d", testID)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FindingsByTest returns the active, non-duplicate findings of a test as
// workflow findings, linking back to the DefectDojo UI.
func FindingsByTest(ctx context.Context, client *Client, creds *Credentials, testID int64) ([]gitlab.OutputFinding, error) {
	active, duplicate := true, false
	resp, err := client.ListFindings(ctx, &FindingsQuery{
		Active:    &active,
		Duplicate: &duplicate,
		TestID:    testID,
		Limit:     findingsPageLimit,
	})
	if err != nil {
		return nil, err
	}

	findings := make([]gitlab.OutputFinding, 0, len(resp.Results))
	for _, finding := range resp.Results {
		findings = append(findings, gitlab.OutputFinding{
			Title:    finding.Title,
			Severity: gitlab.Severity(finding.Severity),
			URL:      fmt.Sprintf("%s/finding/%d", strings.TrimRight(creds.URL, "/"), finding.ID),
		})
	}
	return findings, nil
}
