package defectdojo

import (
	"context"
	"fmt"

	"github.com/secstack/secbot/secbot"
)

// FindingRecord is one finding reduced to what the verdict needs.
type FindingRecord struct {
	ScanName  string
	Active    bool
	Severity  string
	Duplicate *DuplicateFinding
}

// IsActive reports whether the finding counts against the verdict. A
// duplicate inherits the state of the original it points at.
func (f *FindingRecord) IsActive() bool {
	if f.Duplicate != nil {
		return f.Duplicate.Active
	}
	return f.Active
}

// scanValidators decide, per scan handler, whether its findings pass policy.
var scanValidators = map[string]func(findings []FindingRecord) bool{
	// Any active secret leak fails the check.
	"gitleaks": func(findings []FindingRecord) bool {
		for _, finding := range findings {
			if finding.IsActive() {
				return false
			}
		}
		return true
	},
}

// Validator evaluates the findings of one commit against the per-scan
// policies.
type Validator struct {
	client        *Client
	creds         *Credentials
	commitHash    string
	eligibleScans []secbot.Component
}

// NewValidator creates a validator for the check anchored at the commit.
func NewValidator(client *Client, creds *Credentials, commitHash string, eligibleScans []secbot.Component) *Validator {
	return &Validator{
		client:        client,
		creds:         creds,
		commitHash:    commitHash,
		eligibleScans: eligibleScans,
	}
}

// fetchFindings loads every finding of the commit. Uploads tag their test
// with the commit hash, so filtering on the test tag returns all findings
// of the security check across scans.
func (v *Validator) fetchFindings(ctx context.Context) ([]FindingRecord, error) {
	resp, err := v.client.ListFindings(ctx, &FindingsQuery{
		TestTags:      []string{v.commitHash},
		RelatedFields: true,
		Prefetch:      []string{"duplicate_finding"},
		Limit:         findingsPageLimit,
	})
	if err != nil {
		return nil, err
	}

	records := make([]FindingRecord, 0, len(resp.Results))
	for _, finding := range resp.Results {
		scanName, ok := handlerByScanType[finding.RelatedFields.Test.TestType.Name]
		if !ok {
			continue
		}
		record := FindingRecord{
			ScanName: scanName,
			Active:   finding.Active,
			Severity: finding.Severity,
		}
		if finding.DuplicateFinding != nil {
			duplicate, ok := resp.Prefetch.DuplicateFinding[fmt.Sprint(*finding.DuplicateFinding)]
			if ok {
				record.Duplicate = &duplicate
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// IsValid reports whether every eligible scan's findings pass its policy.
func (v *Validator) IsValid(ctx context.Context) (bool, error) {
	all, err := v.fetchFindings(ctx)
	if err != nil {
		return false, err
	}

	eligible := make(map[string]bool, len(v.eligibleScans))
	for _, scan := range v.eligibleScans {
		eligible[scan.HandlerName] = true
	}

	for scanName, validator := range scanValidators {
		if !eligible[scanName] {
			continue
		}
		var findings []FindingRecord
		for _, finding := range all {
			if finding.ScanName == scanName {
				findings = append(findings, finding)
			}
		}
		if !validator(findings) {
			return false, nil
		}
	}
	return true, nil
}
