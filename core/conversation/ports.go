package conversation

import (
	"context"

	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/session"
)

// Button is a postback button.
type Button struct {
	Label   string
	Payload Payload
}

// ReplyOption is a quick reply offered under a message.
type ReplyOption struct {
	Label   string
	Payload string
}

// Card is a rich message linking to a submitted issue.
type Card struct {
	Title     string
	Subtitle  string
	ItemURL   string
	ImageURL  string
	LinkLabel string
}

// Gateway sends replies through the chat channel.
type Gateway interface {
	SendText(ctx context.Context, userID, text string) error
	SendButtons(ctx context.Context, userID, text string, buttons []Button) error
	// SendQuickReplies sends text with reply options. Text may be empty.
	SendQuickReplies(ctx context.Context, userID, text string, replies []ReplyOption) error
	// SendLocationPrompt asks for a location; label names the share button.
	SendLocationPrompt(ctx context.Context, userID, text, label string) error
	SendCards(ctx context.Context, userID string, cards []Card) error
	Profile(ctx context.Context, userID string) (session.Profile, error)
}

// MediaUploader copies a channel media URL into the issue backend and returns
// the stored URL.
type MediaUploader interface {
	UploadMediaFromURL(ctx context.Context, url string) (string, error)
}

// Backend submits finished reports.
type Backend interface {
	CreateIssue(ctx context.Context, issue Issue) (IssueRef, error)
}

// Translator resolves reply text.
type Translator interface {
	Translate(lang string, key locale.Key, subs map[string]string) string
	Locale(path string) string
}

// IssueLocation is the location block of a submitted issue.
type IssueLocation struct {
	Coordinates []float64 `json:"coordinates,omitempty"`
	Title       string    `json:"title,omitempty"`
	Desc        string    `json:"desc,omitempty"`
}

// Reporter is the profile of the user who filed the issue.
type Reporter struct {
	session.Profile
	ChatID string `json:"chat_id"`
}

// Issue is the record submitted to the backend when a report is finished.
type Issue struct {
	Categories   []string      `json:"categories"`
	CreatedTime  int64         `json:"created_time"`
	Detail       string        `json:"detail"`
	Location     IssueLocation `json:"location"`
	Owner        string        `json:"owner"`
	User         Reporter      `json:"user"`
	Photos       []string      `json:"photos"`
	Videos       []string      `json:"videos,omitempty"`
	Provider     string        `json:"provider"`
	Status       string        `json:"status"`
	Tags         []string      `json:"tags"`
	Organization string        `json:"organization"`
}

// IssueRef identifies a created issue.
type IssueRef struct {
	ID string `json:"_id"`
}
