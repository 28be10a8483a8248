package collab

// Key tags every message this application sends on the coordination channel,
// separating it from other applications sharing the same endpoint.
const Key = "vitrivr"

// ConfigKey is the configuration entry holding the coordination endpoint address.
const ConfigKey = "vbs.collabordinator"

// An Action identifies one kind of mutation of the shared item set.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionRemove Action = "REMOVE"
	ActionClear  Action = "CLEAR"
)

// A Message describes one mutation of the shared item set.
// Attribute carries the item identifiers for ADD and REMOVE, and is empty for CLEAR.
type Message struct {
	Action    Action   `json:"action"`
	Key       string   `json:"key"`
	Attribute []string `json:"attribute"`
}

// A Tag is a label/priority pair used to classify items.
type Tag struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// SubmittedTag marks items submitted by any collaborating client.
var SubmittedTag = Tag{Name: "Submitted", Priority: 0}
