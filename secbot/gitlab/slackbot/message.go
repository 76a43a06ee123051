package slackbot

import (
	"fmt"
	"sort"

	"github.com/secstack/secbot/secbot/gitlab"
)

var severityEmoji = map[gitlab.Severity]string{
	gitlab.SeverityInfo:     ":white_circle:",
	gitlab.SeverityLow:      ":large_green_circle:",
	gitlab.SeverityMedium:   ":large_yellow_circle:",
	gitlab.SeverityHigh:     ":large_orange_circle:",
	gitlab.SeverityCritical: ":red_circle:",
}

const unknownSeverityEmoji = ":large_purple_circle:"

// MessageText is the mrkdwn text of a block.
type MessageText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessageBlock is one section of a Slack message. The blocks are stored as
// the notification payload, so their shape is part of the stored state.
type MessageBlock struct {
	Type string      `json:"type"`
	Text MessageText `json:"text"`
}

func sectionBlock(text string) MessageBlock {
	return MessageBlock{
		Type: "section",
		Text: MessageText{Type: "mrkdwn", Text: text},
	}
}

// BuildMessage renders the notification blocks for an output result. A
// result without findings produces no message at all. At most renderLimit
// findings are shown, ordered by severity, with a footer counting what was
// stripped.
func BuildMessage(output *gitlab.OutputResult, renderLimit int) []MessageBlock {
	total := len(output.Response.Findings)
	if total == 0 {
		return nil
	}

	blocks := []MessageBlock{sectionBlock(fmt.Sprintf(
		"Worker *%s* found *%d* new findings in *<%s|%s>*:",
		output.ScanResult.ComponentName,
		total,
		output.Response.ProjectURL,
		output.Response.ProjectName,
	))}

	shown := output.Response.Findings
	if total > renderLimit {
		shown = shown[:renderLimit]
	}
	findings := make([]gitlab.OutputFinding, len(shown))
	copy(findings, shown)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Priority() < findings[j].Severity.Priority()
	})

	for _, finding := range findings {
		emoji, ok := severityEmoji[finding.Severity]
		if !ok {
			emoji = unknownSeverityEmoji
		}
		blocks = append(blocks, sectionBlock(fmt.Sprintf("%s <%s|%s>", emoji, finding.URL, finding.Title)))
	}

	if total > renderLimit {
		blocks = append(blocks, sectionBlock(fmt.Sprintf(
			":no_bell: *%d* were *stripped* from notification :no_bell:",
			total-renderLimit,
		)))
	}
	return blocks
}
