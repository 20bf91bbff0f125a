package bus

// InboundMessage is a user message entering the system from a channel.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	Media      []MediaAttachment
	SessionKey string
	Metadata   map[string]string
}

// MediaAttachment carries an inline attachment, typically an image for
// vision-capable models.
type MediaAttachment struct {
	MimeType string
	Filename string
	Data     []byte
}

// OutboundMessage is a reply to be delivered by a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
