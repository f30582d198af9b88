package realtime

// ProfilesTopic carries every profile change.
const ProfilesTopic = "profiles"

// ConversationTopic carries new messages of one conversation.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// UserTopic carries inbox changes relevant to one user.
func UserTopic(userID string) string {
	return "user:" + userID
}
