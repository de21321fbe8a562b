// Package mailmsg parses raw RFC 5322 messages into the flat shape the
// archive store records: subject, sender, recipients, date, and the
// attachment parts worth extracting. Parsing is best-effort; converter
// output from damaged archives is full of half-broken MIME.
package mailmsg

import (
	"bytes"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/pstvault/pstvault/internal/textutil"
)

// Message is one parsed mail message.
type Message struct {
	Subject string

	// Date is the parsed Date header in UTC, zero when the header is
	// missing or unparseable. Callers fall back to the mbox separator date.
	Date time.Time

	From []Address
	To   []Address

	// Attachments holds every part that declared a filename. Parts without
	// one are body content and are not extracted.
	Attachments []Attachment

	// Defects collects non-fatal structural problems enmime reported.
	Defects []string
}

// Address is a mail address with an optional display name.
type Address struct {
	Name  string
	Email string
}

// Attachment is a file-bearing MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Sender returns the first From address, or a zero Address when the header
// yielded none.
func (m *Message) Sender() Address {
	if len(m.From) > 0 {
		return m.From[0]
	}
	return Address{}
}

// Parse parses raw message bytes. A returned error means the message could
// not be read at all and should be counted as malformed; recoverable
// problems surface in Message.Defects instead.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject: textutil.EnsureUTF8(env.GetHeader("Subject")),
		From:    addressList(env, "From"),
		To:      addressList(env, "To"),
	}

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, ok := parseDate(dateStr); ok {
			msg.Date = t
		}
	}

	// enmime buckets parts into attachments, inlines, and everything else.
	// The store only cares whether a part carries a filename.
	for _, parts := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, part := range parts {
			if part.FileName == "" {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    textutil.EnsureUTF8(part.FileName),
				ContentType: baseMediaType(part.ContentType),
				Content:     part.Content,
			})
		}
	}

	for _, e := range env.Errors {
		msg.Defects = append(msg.Defects, e.Error())
	}

	return msg, nil
}

// addressList parses an address header through enmime, which copes with the
// malformed address syntax converters tend to emit.
func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:  textutil.EnsureUTF8(addr.Name),
			Email: strings.ToLower(addr.Address),
		})
	}
	return addresses
}

// baseMediaType strips parameters from a Content-Type value, so
// "application/pdf; name=x" records as "application/pdf".
func baseMediaType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// dateFormats lists the Date header layouts seen in converter output, most
// common first.
var dateFormats = []string{
	time.RFC1123Z,                           // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                            // "Mon, 02 Jan 2006 15:04:05 MST"
	"Mon, 2 Jan 2006 15:04:05 -0700",        // single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",          // single-digit day, named TZ
	"2 Jan 2006 15:04:05 -0700",             // no weekday
	"2 Jan 2006 15:04:05 MST",               // no weekday, named TZ
	"02 Jan 2006 15:04:05 -0700",            // no weekday, zero-padded
	"02 Jan 2006 15:04:05 MST",              // no weekday, zero-padded, named TZ
	time.RFC822Z,                            // "02 Jan 06 15:04 -0700"
	time.RFC822,                             // "02 Jan 06 15:04 MST"
	time.RFC850,                             // "Monday, 02-Jan-06 15:04:05 MST"
	time.ANSIC,                              // "Mon Jan _2 15:04:05 2006"
	time.UnixDate,                           // "Mon Jan _2 15:04:05 MST 2006"
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)", // parenthesized TZ
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",  // single-digit day, paren TZ
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate parses a Date header value, normalized to UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")

	// Strip a trailing "(UTC)"-style zone name; the numeric offset ahead of
	// it is what counts.
	baseStr := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		baseStr = strings.TrimSpace(s[:idx])
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, baseStr); err == nil {
			return t.UTC(), true
		}
	}
	if baseStr != s {
		for _, format := range dateFormats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
