package conversation

// AttachmentType classifies an inbound attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentLocation AttachmentType = "location"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentFile     AttachmentType = "file"
)

// IsMedia reports whether the attachment is a photo or a video.
func (t AttachmentType) IsMedia() bool {
	return t == AttachmentImage || t == AttachmentVideo
}

// Coordinates is a shared map point.
type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// AttachmentPayload carries either a downloadable URL or a map point.
type AttachmentPayload struct {
	URL         string       `json:"url,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Attachment is one item attached to an inbound message.
type Attachment struct {
	Type    AttachmentType    `json:"type"`
	Payload AttachmentPayload `json:"payload"`
	Title   string            `json:"title,omitempty"`
}

// QuickReplyRef is the payload of a chosen quick reply.
type QuickReplyRef struct {
	Payload string `json:"payload"`
}

// Message is the free-form part of an inbound event.
type Message struct {
	Text        string         `json:"text,omitempty"`
	StickerID   string         `json:"sticker_id,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	QuickReply  *QuickReplyRef `json:"quick_reply,omitempty"`
}

// PostbackRef is the payload of a pressed postback button.
type PostbackRef struct {
	Payload string `json:"payload"`
}

// Event is one inbound chat event addressed to the engine.
type Event struct {
	SenderID  string       `json:"sender_id"`
	Timestamp int64        `json:"timestamp"`
	Message   *Message     `json:"message,omitempty"`
	Postback  *PostbackRef `json:"postback,omitempty"`
}

// Valid reports whether the event carries a sender and something to react to.
func (e Event) Valid() bool {
	return e.SenderID != "" && (e.Message != nil || e.Postback != nil)
}

// Text returns the message text, if any.
func (e Event) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}

// PostbackPayload returns the pressed button payload, if any.
func (e Event) PostbackPayload() Payload {
	if e.Postback == nil {
		return ""
	}
	return Payload(e.Postback.Payload)
}

// QuickReplyPayload returns the chosen quick reply payload, if any.
func (e Event) QuickReplyPayload() string {
	if e.Message == nil || e.Message.QuickReply == nil {
		return ""
	}
	return e.Message.QuickReply.Payload
}

// IsSticker reports whether the message is a sticker.
func (e Event) IsSticker() bool {
	return e.Message != nil && e.Message.StickerID != ""
}

// Attachments returns the message attachments, if any.
func (e Event) Attachments() []Attachment {
	if e.Message == nil {
		return nil
	}
	return e.Message.Attachments
}

// FirstAttachment returns the first attachment and whether there is one.
func (e Event) FirstAttachment() (Attachment, bool) {
	atts := e.Attachments()
	if len(atts) == 0 {
		return Attachment{}, false
	}
	return atts[0], true
}

// Kind summarizes the event for logs.
func (e Event) Kind() string {
	switch {
	case e.Postback != nil:
		return "postback"
	case e.Message == nil:
		return "unknown"
	case e.Message.QuickReply != nil:
		return "quick_reply"
	case e.Message.StickerID != "":
		return "sticker"
	case len(e.Message.Attachments) > 0:
		return "attachment:" + string(e.Message.Attachments[0].Type)
	case e.Message.Text != "":
		return "text"
	}
	return "empty"
}
