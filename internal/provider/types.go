package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/x69x/webmail/internal/model"
)

// Error is a business failure reported by the mailbox provider itself
// (duplicate mailbox, mailbox not found, inactive mailbox, ...), as opposed
// to a transport failure reaching it. Callers that only branch on
// success/failure can treat both identically.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed: %s", e.Action, e.Message)
}

// IsProviderError reports whether err (or any error in its chain) is a
// provider-reported business error.
func IsProviderError(err error) bool {
	var provErr *Error
	return errors.As(err, &provErr)
}

// AccountInfo is the account descriptor returned by a successful login.
type AccountInfo struct {
	Email  string `json:"email"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// envelope is the uniform result shape every provider action responds with.
type envelope struct {
	Success *bool  `json:"success"`
	ErrText string `json:"error"`
	Msg     string `json:"msg"`
}

// failed reports whether the provider explicitly signalled a failure.
func (e *envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

// message returns the best available failure text.
func (e *envelope) message() string {
	if e.ErrText != "" {
		return e.ErrText
	}
	if e.Msg != "" {
		return e.Msg
	}
	return "provider reported failure"
}

type createRequest struct {
	LocalPart string `json:"local_part"`
	Domain    string `json:"domain"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	envelope
	Account AccountInfo `json:"account"`
}

type messagesRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messagesResponse struct {
	envelope
	Emails []wireMessage `json:"emails"`
}

type deleteRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"new_password"`
}

// wireMessage mirrors the provider's message JSON.
type wireMessage struct {
	UID     int64  `json:"uid"`
	Subject string `json:"subject"`
	From    struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"from"`
	Date        string           `json:"date"`
	Content     string           `json:"content"`
	IsRead      bool             `json:"isRead"`
	Attachments []wireAttachment `json:"attachments"`
}

type wireAttachment struct {
	Name    string `json:"name"`
	Size    string `json:"size"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	IsImage bool   `json:"isImage"`
}

// toModel converts a wire message into the internal representation.
// An unparseable date is kept as the zero time rather than dropping
// the message.
func (w wireMessage) toModel() model.Message {
	date, err := time.Parse(time.RFC3339, w.Date)
	if err != nil {
		date = time.Time{}
	}

	msg := model.Message{
		UID:       w.UID,
		Subject:   w.Subject,
		FromName:  w.From.Name,
		FromEmail: w.From.Email,
		Date:      date,
		Content:   w.Content,
		Read:      w.IsRead,
	}

	for _, a := range w.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			Name:    a.Name,
			Size:    a.Size,
			Type:    a.Type,
			URL:     a.URL,
			IsImage: a.IsImage,
		})
	}

	return msg
}
