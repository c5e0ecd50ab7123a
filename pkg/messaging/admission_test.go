package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRespond(t *testing.T) {
	tests := []struct {
		name   string
		msg    Message
		cfg    AdapterConfig
		ok     bool
		reason Reason
	}{
		{
			name:   "dm with empty allow-list",
			msg:    Message{ConversationID: "c1", Sender: "u1"},
			cfg:    AdapterConfig{},
			reason: ReasonDMNoneAllowed,
		},
		{
			name: "dm wildcard",
			msg:  Message{ConversationID: "c1"},
			cfg:  AdapterConfig{AllowedDMs: []string{"*"}},
			ok:   true,
		},
		{
			name: "dm listed conversation",
			msg:  Message{ConversationID: "c1"},
			cfg:  AdapterConfig{AllowedDMs: []string{"c0", "c1"}},
			ok:   true,
		},
		{
			name: "dm listed sender",
			msg:  Message{ConversationID: "c9", Sender: "alice"},
			cfg:  AdapterConfig{AllowedDMs: []string{"alice"}},
			ok:   true,
		},
		{
			name:   "dm not listed",
			msg:    Message{ConversationID: "c9", Sender: "bob"},
			cfg:    AdapterConfig{AllowedDMs: []string{"alice"}},
			reason: ReasonDMNotAllowed,
		},
		{
			name:   "dm ignores group list",
			msg:    Message{ConversationID: "c1"},
			cfg:    AdapterConfig{AllowedGroups: []string{"*"}},
			reason: ReasonDMNoneAllowed,
		},
		{
			name:   "group with empty allow-list",
			msg:    Message{ConversationID: "g1", IsGroup: true, Mentions: []string{MentionSelf}},
			cfg:    AdapterConfig{AllowedDMs: []string{"*"}},
			reason: ReasonGroupNoneAllowed,
		},
		{
			name:   "group not listed",
			msg:    Message{ConversationID: "g1", IsGroup: true},
			cfg:    AdapterConfig{AllowedGroups: []string{"g2"}},
			reason: ReasonGroupNotAllowed,
		},
		{
			name:   "group listed but not mentioned",
			msg:    Message{ConversationID: "g1", IsGroup: true, Mentions: []string{"someone"}},
			cfg:    AdapterConfig{AllowedGroups: []string{"*"}, RespondToMentionsOnly: true},
			reason: ReasonGroupNotMentioned,
		},
		{
			name: "group listed and mentioned",
			msg:  Message{ConversationID: "g1", IsGroup: true, Mentions: []string{MentionSelf}},
			cfg:  AdapterConfig{AllowedGroups: []string{"g1"}, RespondToMentionsOnly: true},
			ok:   true,
		},
		{
			name: "group without mention gating",
			msg:  Message{ConversationID: "g1", IsGroup: true},
			cfg:  AdapterConfig{AllowedGroups: []string{"g1"}},
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ShouldRespond(tt.msg, tt.cfg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestShouldRespond_MentionGateOverridesAllowList(t *testing.T) {
	cfg := AdapterConfig{AllowedGroups: []string{"*", "g1"}, RespondToMentionsOnly: true}
	for _, mentions := range [][]string{nil, {}, {"other"}, {"SELF"}} {
		msg := Message{ConversationID: "g1", IsGroup: true, Mentions: mentions}
		if ok, _ := ShouldRespond(msg, cfg); ok {
			t.Errorf("mentions %v: expected rejection", mentions)
		}
	}
}
