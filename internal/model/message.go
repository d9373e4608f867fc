package model

import "time"

// Message is a single mailbox message as reported by the provider.
// Messages are never persisted locally; they are fetched fresh per
// activation and per refresh tick and discarded wholesale on switch
// or logout.
type Message struct {
	// UID identifies the message within the current account session.
	UID int64 `json:"uid"`

	Subject   string `json:"subject"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`

	// Date is when the message was received.
	Date time.Time `json:"date"`

	// Content is the message body, if the provider included one.
	Content string `json:"content,omitempty"`

	Read bool `json:"read"`

	// Attachments are purely descriptive; no binary handling happens here.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a message attachment without carrying its bytes.
type Attachment struct {
	Name string `json:"name"`

	// Size is a display string as formatted by the provider (e.g. "2.4 MB").
	Size string `json:"size"`

	// Type is the MIME type.
	Type string `json:"type"`

	// URL is where the attachment can be retrieved from.
	URL string `json:"url"`

	IsImage bool `json:"is_image"`
}
