package messaging

import "strings"

// SessionKey derives the key a consumer uses to scope memory or session state
// for a conversation: agent:<agentID>:<platform>:<dm|group>:<conversationID>.
//
// If platform is empty the message's own platform is used.
func SessionKey(agentID, platform string, msg Message) string {
	if platform == "" {
		platform = msg.Platform
	}
	scope := "dm"
	if msg.IsGroup {
		scope = "group"
	}
	return strings.Join([]string{"agent", agentID, platform, scope, msg.ConversationID}, ":")
}
