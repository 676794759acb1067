package session

// TitleMaxRunes is the longest title derived from a user message before truncation
const TitleMaxRunes = 50

const ellipsis = "..."

// DeriveTitle computes a display title from the first user message
func DeriveTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) > TitleMaxRunes {
			return string(runes[:TitleMaxRunes]) + ellipsis
		}
		return msg.Content
	}
	return DefaultTitle
}
