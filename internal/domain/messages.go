package domain

import "encoding/json"

// UploadMessage is what the gateway publishes to the upload topic.
type UploadMessage struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
	ReplyTo  string `json:"reply_to"`
}

// AggregationInitMessage seeds a task's expected set at the aggregator.
type AggregationInitMessage struct {
	TaskID           string       `json:"task_id"`
	ReplyTo          string       `json:"reply_to"`
	ExpectedServices []ServiceTag `json:"expected_services"`
}

// WorkItemMessage is the per-worker dispatch payload. The dispatcher's
// configuration fixes which JSON key ("parts" or "sections") a given worker
// receives; WorkItemMessage accepts either on decode and always encodes
// under the key requested at construction time.
type WorkItemMessage struct {
	TaskID string
	Parts  map[string]string
	key    string // "parts" or "sections"; defaults to "parts" when unset
}

// NewWorkItemMessage builds a work item that will marshal its section subset
// under the given JSON key ("parts" or "sections").
func NewWorkItemMessage(taskID string, parts map[string]string, key string) WorkItemMessage {
	return WorkItemMessage{TaskID: taskID, Parts: parts, key: key}
}

// MarshalJSON encodes under "parts" unless the message was built with "sections".
func (w WorkItemMessage) MarshalJSON() ([]byte, error) {
	key := w.key
	if key == "" {
		key = "parts"
	}
	raw := map[string]any{
		"task_id": w.TaskID,
		key:       w.Parts,
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes either a "parts" or "sections" key into Parts.
func (w *WorkItemMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		TaskID   string            `json:"task_id"`
		Parts    map[string]string `json:"parts"`
		Sections map[string]string `json:"sections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.TaskID = raw.TaskID
	if raw.Parts != nil {
		w.Parts = raw.Parts
		w.key = "parts"
		return nil
	}
	w.Parts = raw.Sections
	w.key = "sections"
	return nil
}
