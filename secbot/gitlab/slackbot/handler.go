// Package slackbot notifies Slack channels about new findings of a security
// check.
package slackbot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"
)

// HandlerName is the name this handler is registered under.
const HandlerName = "slack"

func init() {
	secbot.RegisterNotificationHandler(gitlab.InputName, HandlerName, func(deps *secbot.Deps) secbot.NotificationHandler {
		return &Handler{deps: deps}
	})
}

// Config is the component config block of a slack notification.
type Config struct {
	RenderLimit int      `json:"render_limit" validate:"required,min=1"`
	Channels    []string `json:"channels" validate:"required,min=1"`
}

// Credentials is the env block of a slack notification.
type Credentials struct {
	Token string `json:"token" validate:"required"`
}

// Handler posts finding summaries to the configured channels.
type Handler struct {
	deps *secbot.Deps
}

func outputResult(inv *secbot.Invocation) (*gitlab.OutputResult, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("%w: slack invoked without an output result", secbot.ErrInput)
	}
	output, ok := inv.Args[0].(*gitlab.OutputResult)
	if !ok {
		return nil, fmt.Errorf("%w: slack expects an output result, got %T", secbot.ErrInput, inv.Args[0])
	}
	return output, nil
}

// Run renders the message once and delivers it to every channel, at most
// once per channel. Redeliveries reuse the payload stored on the first
// attempt so a channel never sees two variants of the same notification.
func (h *Handler) Run(ctx context.Context, inv *secbot.Invocation) (any, error) {
	cfg := &Config{}
	if err := secbot.DecodeConfig(inv.Config, cfg); err != nil {
		return nil, err
	}
	creds := &Credentials{}
	if err := secbot.DecodeEnv(inv.Env, creds); err != nil {
		return nil, err
	}
	output, err := outputResult(inv)
	if err != nil {
		return nil, err
	}

	blocks := BuildMessage(output, cfg.RenderLimit)
	if blocks == nil {
		return nil, nil
	}
	payload, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("encode slack payload: %w", err)
	}

	client := slack.New(creds.Token)
	log := h.deps.Log.WithComponent(HandlerName).WithCheckID(output.ScanResult.Input.CheckID)

	for _, channel := range cfg.Channels {
		channel := channel
		err := h.deps.Notifications.Deliver(ctx, output.ScanResult.ScanID, channel, payload,
			func(ctx context.Context, stored []byte) error {
				return postMessage(ctx, client, channel, stored)
			})
		if err != nil {
			return nil, err
		}
		log.Info("slack notification delivered", "channel", channel)
	}
	return nil, nil
}

func postMessage(ctx context.Context, client *slack.Client, channel string, payload []byte) error {
	var blocks []MessageBlock
	if err := json.Unmarshal(payload, &blocks); err != nil {
		return fmt.Errorf("decode stored slack payload: %w", err)
	}

	sections := make([]slack.Block, 0, len(blocks))
	for _, block := range blocks {
		sections = append(sections, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, block.Text.Text, false, false),
			nil,
			nil,
		))
	}

	_, _, err := client.PostMessageContext(ctx, channel, slack.MsgOptionBlocks(sections...))
	if err != nil {
		return fmt.Errorf("post to %s: %w", channel, err)
	}
	return nil
}

// OnFailure records the notification failure against the originating scan.
func (h *Handler) OnFailure(ctx context.Context, inv *secbot.Invocation, cause error) error {
	output, err := outputResult(inv)
	if err != nil {
		return nil
	}
	return gitlab.HandleFailure(ctx, h.deps.Scans,
		output.ScanResult.Input.CheckID, output.ScanResult.ComponentName, cause)
}
