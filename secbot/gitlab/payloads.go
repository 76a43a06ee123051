package gitlab

import (
	"encoding/json"
	"fmt"

	"github.com/secstack/secbot/secbot"
)

// Payload kinds registered with the task broker codec.
const (
	KindInputData    = "gitlab.input_data"
	KindScanResult   = "gitlab.scan_result"
	KindOutputResult = "gitlab.output_result"
)

func init() {
	secbot.RegisterKind(KindInputData, func() any { return &InputData{} })
	secbot.RegisterKind(KindScanResult, func() any { return &ScanResult{} })
	secbot.RegisterKind(KindOutputResult, func() any { return &OutputResult{} })
}

// InputData is the workflow argument built from one accepted webhook event.
// The raw payload travels with it so downstream steps can rebuild the typed
// event model.
type InputData struct {
	CheckID int64           `json:"check_id"`
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (d *InputData) PayloadKind() string { return KindInputData }

// WebhookData rebuilds the typed event model from the raw payload.
func (d *InputData) WebhookData() (WebhookData, error) {
	return ParseEvent(d.Event, d.Payload)
}

// ScanResultFile is the report a scanner produced for one commit.
type ScanResultFile struct {
	CommitHash string          `json:"commit_hash"`
	ScanName   string          `json:"scan_name"`
	Format     string          `json:"format"`
	Content    json.RawMessage `json:"content"`
}

// Filename is the upload name of the report.
func (f *ScanResultFile) Filename() string {
	return fmt.Sprintf("%s_gitlab_%s.%s", f.CommitHash, f.ScanName, f.Format)
}

// ScanResult is a scan step's output, piped to the output step.
type ScanResult struct {
	ScanID        int64          `json:"scan_id"`
	HandlerName   string         `json:"handler_name"`
	ComponentName string         `json:"component_name"`
	Input         InputData      `json:"input"`
	File          ScanResultFile `json:"file"`
}

func (r *ScanResult) PayloadKind() string { return KindScanResult }

// OutputFinding is one finding as the output backend reports it.
type OutputFinding struct {
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	URL      string   `json:"url"`
}

// OutputResponse summarizes what an output backend ingested.
type OutputResponse struct {
	ProjectName string          `json:"project_name"`
	ProjectURL  string          `json:"project_url"`
	Findings    []OutputFinding `json:"findings"`
}

// OutputResult is an output step's result, piped to the notification group.
type OutputResult struct {
	HandlerName   string         `json:"handler_name"`
	ComponentName string         `json:"component_name"`
	ScanResult    ScanResult     `json:"scan_result"`
	Response      OutputResponse `json:"response"`
}

func (r *OutputResult) PayloadKind() string { return KindOutputResult }
