package gmailclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

const EMAIL_INTERVAL = 3 * time.Second

// SendEmail sends a plain text email.
// Throttles requests to respect Gmail API rate limits: sends start at least EMAIL_INTERVAL apart,
// but a slow API call does not hold back the next one.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) error {
	if wait := time.Until(c.reserveSlot(time.Now())); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	gmailMessage := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildMessage(c.sender, to, subject, body))),
	}

	if _, err := c.service.Users.Messages.Send(c.userID, gmailMessage).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	return nil
}

// reserveSlot books the earliest send start that is at or after now and EMAIL_INTERVAL after the
// previously booked one
func (c *Client) reserveSlot(now time.Time) time.Time {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	slot := now
	if !c.lastSendTime.IsZero() {
		if next := c.lastSendTime.Add(EMAIL_INTERVAL); next.After(slot) {
			slot = next
		}
	}
	c.lastSendTime = slot
	return slot
}

// buildMessage renders an RFC 2822 message. The From header is omitted when no sender is configured.
func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return b.String()
}
