package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEnsureUTF8_ValidUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ASCII", "Quarterly report attached"},
		{"UTF-8 accents", "Réunion à Montréal"},
		{"UTF-8 CJK", "会議の議事録"},
		{"UTF-8 Cyrillic", "Отчет за квартал"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnsureUTF8(tt.input); got != tt.input {
				t.Errorf("got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestEnsureUTF8_Windows1252(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"right single quote", []byte("Rand\x92s Opponent"), "Rand’s Opponent"},
		{"en dash", []byte("2020 \x96 2024"), "2020 – 2024"},
		{"em dash", []byte("Hello\x97World"), "Hello—World"},
		{"double quotes", []byte("\x93Hello\x94"), "“Hello”"},
		{"trademark", []byte("Brand\x99"), "Brand™"},
		{"bullet", []byte("\x95 Item"), "• Item"},
		{"euro sign", []byte("Price: \x80100"), "Price: €100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureUTF8(string(tt.input))
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result is not valid UTF-8: %q", got)
			}
		})
	}
}

func TestEnsureUTF8_Latin1(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"o with acute", []byte("Mir\xf3 - Picasso"), "Miró - Picasso"},
		{"c with cedilla", []byte("Gar\xe7on"), "Garçon"},
		{"u with umlaut", []byte("M\xfcnchen"), "München"},
		{"n with tilde", []byte("Espa\xf1a"), "España"},
		{"degree symbol", []byte("25\xb0C"), "25°C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureUTF8(string(tt.input))
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEnsureUTF8_MixedContent(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		contains []string
	}{
		{
			"subject with smart quotes",
			[]byte("Re: Can\x92t access the \x93dashboard\x94"),
			[]string{"Re:", "Can", "access the", "dashboard"},
		},
		{
			"price with currency",
			[]byte("Only \x80199.99 \x96 Limited Time"),
			[]string{"Only", "199.99", "Limited Time"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureUTF8(string(tt.input))
			if !utf8.ValidString(got) {
				t.Fatalf("result is not valid UTF-8: %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("result %q missing %q", got, want)
				}
			}
		})
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"valid unchanged", "Hello, 世界!", "Hello, 世界!"},
		{"single invalid byte", "Hello\x80World", "Hello�World"},
		{"multiple invalid bytes", "Test\x80\x81\x82End", "Test���End"},
		{"truncated sequence", "Hello\xc3", "Hello�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeUTF8(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeUTF8(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEncodingByName(t *testing.T) {
	tests := []struct {
		charset  string
		input    []byte
		expected string
	}{
		{"windows-1252", []byte{0x92}, "’"},
		{"CP1252", []byte{0x92}, "’"},
		{"ISO-8859-1", []byte{0xe9}, "é"},
		{"latin1", []byte{0xe9}, "é"},
		{"Shift_JIS", []byte{0x82, 0xa0, 0x82, 0xa2}, "あい"},
		{"EUC-JP", []byte{0xa4, 0xa2, 0xa4, 0xa4}, "あい"},
		{"GBK", []byte{0xc4, 0xe3, 0xba, 0xc3}, "你好"},
		{"Big5", []byte{0xa7, 0x41, 0xa6, 0x6e}, "你好"},
		{"EUC-KR", []byte{0xbe, 0xc8, 0xb3, 0xe7}, "안녕"},
		{"KOI8-R", []byte{0xf0, 0xf2, 0xe9, 0xf7, 0xe5, 0xf4}, "ПРИВЕТ"},
	}
	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			enc := EncodingByName(tt.charset)
			if enc == nil {
				t.Fatalf("EncodingByName(%q) = nil, want encoding", tt.charset)
			}
			decoded, err := enc.NewDecoder().Bytes(tt.input)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if string(decoded) != tt.expected {
				t.Errorf("decoded %q, want %q", string(decoded), tt.expected)
			}
		})
	}
}

func TestEncodingByName_Unknown(t *testing.T) {
	for _, charset := range []string{"unknown-charset", "", "utf-99"} {
		if enc := EncodingByName(charset); enc != nil {
			t.Errorf("EncodingByName(%q) = %v, want nil", charset, enc)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		expected string
	}{
		{"short ASCII", "Hello", 10, "Hello"},
		{"exact length", "Hello", 5, "Hello"},
		{"truncate ASCII", "Hello World", 8, "Hello..."},
		{"empty", "", 5, ""},
		{"max 3", "Hello", 3, "Hel"},
		{"max 4", "Hello", 4, "H..."},
		{"multi-byte no cut", "你好世界", 4, "你好世界"},
		{"multi-byte cut", "你好世界！", 4, "你..."},
		{"zero", "Hello", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.input, tt.maxRunes); got != tt.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.expected)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single line", "Opening PST file", "Opening PST file"},
		{"multi line", "Error: bad index\nProcessing item 2\n", "Error: bad index"},
		{"crlf", "Error: bad index\r\nmore", "Error: bad index"},
		{"leading newlines", "\n\nreal message", "real message"},
		{"empty", "", ""},
		{"only newline", "\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstLine(tt.input); got != tt.expected {
				t.Errorf("FirstLine(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
