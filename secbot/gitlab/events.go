package gitlab

import "github.com/tidwall/gjson"

// Event is a GitLab webhook event type, as sent in the X-Gitlab-Event header.
type Event string

const (
	EventPush         Event = "Push Hook"
	EventTagPush      Event = "Tag Push Hook"
	EventMergeRequest Event = "Merge Request Hook"
)

// InputName is the workflow input this package serves.
const InputName = "gitlab"

var systemHookEvents = map[string]Event{
	"push":          EventPush,
	"tag_push":      EventTagPush,
	"merge_request": EventMergeRequest,
}

// EventFromHeader resolves the webhook event from the X-Gitlab-Event header.
// System Hooks are instance-level webhooks; their header carries no event
// type, so it is read from the body instead. GitLab names the key
// event_name for pushes and tag pushes but event_type for merge requests.
// Unsupported events return false and must be acknowledged without action.
func EventFromHeader(header string, body []byte) (Event, bool) {
	if header == "System Hook" {
		name := gjson.GetBytes(body, "event_name").String()
		if name == "" {
			name = gjson.GetBytes(body, "event_type").String()
		}
		event, ok := systemHookEvents[name]
		return event, ok
	}

	switch event := Event(header); event {
	case EventPush, EventTagPush, EventMergeRequest:
		return event, true
	}
	return "", false
}
