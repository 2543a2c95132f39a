package images

import (
	"strings"
	"testing"
)

func ptr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	longBase64 := strings.Repeat("QUJD", 30) + "=="
	wrapped := strings.Repeat("QUJD", 20) + "\r\n" + strings.Repeat("QUJD", 10)

	tests := []struct {
		name string
		in   *string
		want *string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "empty", in: ptr(""), want: nil},
		{name: "blank", in: ptr("  \t "), want: nil},
		{name: "https", in: ptr("https://cdn.example/p.jpg"), want: ptr("https://cdn.example/p.jpg")},
		{name: "mixed case scheme", in: ptr("HTTP://cdn.example/p.jpg"), want: ptr("HTTP://cdn.example/p.jpg")},
		{name: "data uri", in: ptr("data:image/png;base64,AAAA"), want: ptr("data:image/png;base64,AAAA")},
		{name: "bare base64", in: ptr(longBase64), want: ptr(jpegDataPrefix + longBase64)},
		{name: "base64 with line breaks", in: ptr(wrapped), want: ptr(jpegDataPrefix + wrapped)},
		{name: "short base64-looking code", in: ptr("QUJDREVG"), want: ptr("QUJDREVG")},
		{name: "long text", in: ptr(strings.Repeat("not base64 ", 12)), want: ptr(strings.Repeat("not base64 ", 12))},
		{name: "relative path", in: ptr("/img/p.jpg"), want: ptr("/img/p.jpg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("Normalize = %q, want nil", *got)
			case tt.want != nil && got == nil:
				t.Fatalf("Normalize = nil, want %q", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Fatalf("Normalize = %q, want %q", *got, *tt.want)
			}

			if got != nil {
				again := Normalize(got)
				if again == nil || *again != *got {
					t.Fatalf("Normalize is not idempotent for %q", *got)
				}
			}
		})
	}
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	in := ptr("https://cdn.example/p.jpg")
	got := Normalize(in)
	*in = "changed"
	if *got != "https://cdn.example/p.jpg" {
		t.Fatalf("output changed with input: %q", *got)
	}
}
