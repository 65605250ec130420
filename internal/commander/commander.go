package commander

// Commander is the chat transport abstraction used by the relay.
type Commander interface {
	GetUpdates(offset int64, timeout int) ([]Update, error)
	SendMessage(chatID int64, text string) error
	SendChatAction(chatID int64, action string) error
}

// ActionTyping is the chat action shown while a reply is being produced.
const ActionTyping = "typing"

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	Chat Chat    `json:"chat"`
	From *User   `json:"from,omitempty"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies the author of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// SenderID is the stable key for per-user state: the author when known,
// otherwise the chat.
func (m *Message) SenderID() int64 {
	if m.From != nil && m.From.ID != 0 {
		return m.From.ID
	}
	return m.Chat.ID
}
