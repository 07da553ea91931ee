package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/rentdesk/mailorder/internal/model"
)

// Fetcher issues search and fetch operations over the connector's
// session. All operations within a run are sequential; the session is
// never used by two callers at once.
type Fetcher struct {
	conn   *Connector
	logger *slog.Logger
}

// NewFetcher creates a fetcher bound to the given connector.
func NewFetcher(conn *Connector, logger *slog.Logger) *Fetcher {
	return &Fetcher{conn: conn, logger: logger}
}

// Search selects INBOX and returns the UIDs of messages received since
// the given time whose subject contains subjectFilter. An empty filter
// matches every subject.
func (f *Fetcher) Search(
	_ context.Context, since time.Time, subjectFilter string,
) ([]imap.UID, error) {
	client := f.conn.Client()
	if client == nil {
		return nil, fmt.Errorf("mailbox session not connected")
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Since: since,
	}
	if subjectFilter != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: subjectFilter},
		}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	return searchData.AllUIDs(), nil
}

// Fetch retrieves full message bodies for the given UIDs. A failure on
// an individual message is logged and that message skipped; it is not
// fatal to the batch.
func (f *Fetcher) Fetch(
	ctx context.Context, uids []imap.UID,
) ([]model.RawMessage, error) {
	client := f.conn.Client()
	if client == nil {
		return nil, fmt.Errorf("mailbox session not connected")
	}

	msgs := make([]model.RawMessage, 0, len(uids))
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return msgs, err
		}

		msg, err := fetchOne(client, uid)
		if err != nil {
			f.logger.Warn("fetching message failed, skipping",
				"uid", uint32(uid), "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// fetchOne retrieves the envelope and body of a single message.
func fetchOne(client *imapclient.Client, uid imap.UID) (model.RawMessage, error) {
	uidSet := imap.UIDSetNum(uid)

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msgData := fetchCmd.Next()
	if msgData == nil {
		return model.RawMessage{}, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msgData.Collect()
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("collecting message data: %w", err)
	}

	msg := rawMessageFromBuffer(buf)

	if raw := buf.FindBodySection(bodySection); raw != nil {
		msg.BodyText = extractText(raw)
	}

	if err := fetchCmd.Close(); err != nil {
		return msg, fmt.Errorf("closing fetch: %w", err)
	}

	return msg, nil
}

// rawMessageFromBuffer maps a FetchMessageBuffer to a RawMessage.
func rawMessageFromBuffer(buf *imapclient.FetchMessageBuffer) model.RawMessage {
	msg := model.RawMessage{
		UID:        uint32(buf.UID),
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		msg.Subject = buf.Envelope.Subject
		if !buf.Envelope.Date.IsZero() {
			msg.ReceivedAt = buf.Envelope.Date
		}

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				msg.From = from.Name
			} else {
				msg.From = from.Addr()
			}
		}
	}

	return msg
}

// extractText parses a raw RFC 2822 message using go-message and
// returns the plain-text body, falling back to stripped HTML and
// finally to the raw bytes.
func extractText(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	if textBody != "" {
		return textBody
	}
	if htmlBody != "" {
		return stripHTML(htmlBody)
	}
	return string(raw)
}

var (
	htmlBreakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// stripHTML removes markup from an HTML body so the line-based parser
// can work with it.
func stripHTML(s string) string {
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}
