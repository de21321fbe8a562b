package mailmsg

import (
	"strings"
	"testing"
	"time"

	"github.com/pstvault/pstvault/internal/testutil"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(): %v", err)
	}
	return msg
}

func TestParse_Basic(t *testing.T) {
	raw := testutil.NewMessage().
		From(`"Alice Archivist" <alice@example.com>`).
		To("bob@example.com").
		Subject("Migration schedule").
		Date("Tue, 02 Jan 2024 09:30:00 +0100").
		Bytes()

	msg := mustParse(t, raw)

	if msg.Subject != "Migration schedule" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Migration schedule")
	}
	sender := msg.Sender()
	if sender.Email != "alice@example.com" || sender.Name != "Alice Archivist" {
		t.Errorf("Sender = %+v", sender)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "bob@example.com" {
		t.Errorf("To = %+v", msg.To)
	}
	want := time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %+v, want none", msg.Attachments)
	}
}

func TestParse_MultipleRecipients(t *testing.T) {
	raw := testutil.NewMessage().
		To(`Bob <bob@example.com>, "Carol C." <CAROL@Example.COM>, dave@example.com`).
		Bytes()

	msg := mustParse(t, raw)

	if len(msg.To) != 3 {
		t.Fatalf("len(To) = %d, want 3", len(msg.To))
	}
	// Addresses are lowercased, display names preserved.
	if msg.To[1].Email != "carol@example.com" {
		t.Errorf("To[1].Email = %q, want %q", msg.To[1].Email, "carol@example.com")
	}
	if msg.To[1].Name != "Carol C." {
		t.Errorf("To[1].Name = %q, want %q", msg.To[1].Name, "Carol C.")
	}
}

func TestParse_MissingHeaders(t *testing.T) {
	raw := testutil.NewMessage().
		To("").
		NoSubject().
		Date("").
		Bytes()

	msg := mustParse(t, raw)

	if msg.Subject != "" {
		t.Errorf("Subject = %q, want empty", msg.Subject)
	}
	if len(msg.To) != 0 {
		t.Errorf("To = %+v, want none", msg.To)
	}
	if !msg.Date.IsZero() {
		t.Errorf("Date = %v, want zero", msg.Date)
	}
}

func TestParse_UnparseableDate(t *testing.T) {
	raw := testutil.NewMessage().Date("sometime last week").Bytes()
	msg := mustParse(t, raw)
	if !msg.Date.IsZero() {
		t.Errorf("Date = %v, want zero for unparseable header", msg.Date)
	}
}

func TestParse_EncodedSubject(t *testing.T) {
	raw := testutil.NewMessage().
		Subject("=?ISO-8859-1?Q?Caf=E9_meeting?=").
		Bytes()

	msg := mustParse(t, raw)
	if msg.Subject != "Café meeting" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Café meeting")
	}
}

func TestParse_Raw8BitSubject(t *testing.T) {
	// Unencoded Latin-1 in a header, common in readpst output from old
	// archives. The exact decoding depends on charset detection; the row
	// must end up valid UTF-8 either way.
	raw := testutil.NewMessage().
		Subject("Caf\xe9 meeting").
		Bytes()

	msg := mustParse(t, raw)
	testutil.AssertValidUTF8(t, msg.Subject)
	if !strings.HasPrefix(msg.Subject, "Caf") {
		t.Errorf("Subject = %q, want ASCII prefix kept", msg.Subject)
	}
}

func TestParse_Attachments(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake content")
	csv := []byte("a,b,c\n1,2,3\n")
	raw := testutil.NewMessage().
		Subject("Reports").
		WithAttachment("report.pdf", "application/pdf", pdf).
		WithAttachment("data.csv", "text/csv", csv).
		Bytes()

	msg := mustParse(t, raw)

	if len(msg.Attachments) != 2 {
		t.Fatalf("len(Attachments) = %d, want 2", len(msg.Attachments))
	}
	first := msg.Attachments[0]
	if first.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want %q", first.Filename, "report.pdf")
	}
	if first.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, want %q", first.ContentType, "application/pdf")
	}
	if string(first.Content) != string(pdf) {
		t.Errorf("Content = %q, want %q", first.Content, pdf)
	}
	if msg.Attachments[1].Filename != "data.csv" {
		t.Errorf("second Filename = %q, want %q", msg.Attachments[1].Filename, "data.csv")
	}
}

func TestParse_NamelessPartsAreNotAttachments(t *testing.T) {
	// An inline image without a filename is body content, not an
	// extractable attachment.
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Inline logo",
		"MIME-Version: 1.0",
		`Content-Type: multipart/related; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html",
		"",
		`<img src="cid:logo">`,
		"--b1",
		"Content-Type: image/png",
		"Content-ID: <logo>",
		"Content-Disposition: inline",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw0KGgo=",
		"--b1--",
		"",
	}, "\r\n")

	msg := mustParse(t, []byte(raw))
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %+v, want none for nameless inline part", msg.Attachments)
	}
}

func TestSender_Empty(t *testing.T) {
	m := &Message{}
	if got := m.Sender(); got.Email != "" || got.Name != "" {
		t.Errorf("Sender() = %+v, want zero", got)
	}
}

func TestBaseMediaType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"application/pdf", "application/pdf"},
		{"application/pdf; name=report.pdf", "application/pdf"},
		{"TEXT/CSV; charset=utf-8", "text/csv"},
		{" image/png ", "image/png"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := baseMediaType(tt.input); got != tt.want {
			t.Errorf("baseMediaType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   time.Time
		wantOK bool
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), true},
		{"single-digit day", "Mon, 2 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), true},
		{"no weekday", "02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), true},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), true},
		{"extra whitespace", "Mon,  02 Jan 2006  15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), true},
		{"ISO 8601", "2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), true},
		{"garbage", "next Tuesday probably", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
