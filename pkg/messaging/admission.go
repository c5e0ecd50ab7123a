package messaging

import "slices"

// AdapterConfig is the admission policy attached to an adapter at
// construction. It is not modified afterwards.
type AdapterConfig struct {
	AllowedDMs            []string `json:"allowedDMs"            yaml:"allowedDMs"`
	AllowedGroups         []string `json:"allowedGroups"         yaml:"allowedGroups"`
	RespondToMentionsOnly bool     `json:"respondToMentionsOnly" yaml:"respondToMentionsOnly"`
}

// Reason tags why a message was blocked. The empty Reason means admitted.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonGroupNoneAllowed  Reason = "group_none_allowed"
	ReasonGroupNotAllowed   Reason = "group_not_allowed"
	ReasonGroupNotMentioned Reason = "group_not_mentioned"
	ReasonDMNoneAllowed     Reason = "dm_none_allowed"
	ReasonDMNotAllowed      Reason = "dm_not_allowed"
)

// ShouldRespond decides whether msg may be forwarded to the consumer under cfg.
// An empty allow-list blocks everything for that scope. Direct messages match
// the allow-list on either the conversation id or the sender id.
func ShouldRespond(msg Message, cfg AdapterConfig) (bool, Reason) {
	if msg.IsGroup {
		if len(cfg.AllowedGroups) == 0 {
			return false, ReasonGroupNoneAllowed
		}
		if !allows(cfg.AllowedGroups, msg.ConversationID) {
			return false, ReasonGroupNotAllowed
		}
		if cfg.RespondToMentionsOnly && !msg.Mentioned() {
			return false, ReasonGroupNotMentioned
		}
		return true, ReasonNone
	}

	if len(cfg.AllowedDMs) == 0 {
		return false, ReasonDMNoneAllowed
	}
	if !allows(cfg.AllowedDMs, msg.ConversationID, msg.Sender) {
		return false, ReasonDMNotAllowed
	}
	return true, ReasonNone
}

func allows(list []string, ids ...string) bool {
	if slices.Contains(list, Wildcard) {
		return true
	}
	for _, id := range ids {
		if id != "" && slices.Contains(list, id) {
			return true
		}
	}
	return false
}
