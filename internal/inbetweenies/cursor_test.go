package inbetweenies

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{Ms: 1730635200000, ID: "c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f"}

	encoded := EncodeCursor(original)
	decoded, ok := DecodeCursor(encoded)

	if !ok {
		t.Fatal("DecodeCursor() failed for valid cursor")
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}

func TestEncodeCursorZeroValue(t *testing.T) {
	if got := EncodeCursor(Cursor{}); got != "" {
		t.Errorf("EncodeCursor(zero) = %q, want empty", got)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty string", ""},
		{"invalid base64", "not-base64!!!"},
		{"no pipe", "MTIzNDU2Nzg5MA"},        // "1234567890"
		{"empty id", "MTIzNDU2fA"},            // "123456|"
		{"bad timestamp", "YWJjfGVudGl0eS0x"}, // "abc|entity-1"
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := DecodeCursor(tt.encoded); ok {
				t.Errorf("DecodeCursor(%q) accepted invalid input", tt.encoded)
			}
		})
	}
}

func TestDecodeCursorIDWithPipe(t *testing.T) {
	// Entity ids are opaque; one containing a pipe must survive the round trip
	c := Cursor{Ms: 42, ID: "weird|id"}
	decoded, ok := DecodeCursor(EncodeCursor(c))
	if !ok || decoded != c {
		t.Errorf("round trip = %+v, %v; want %+v", decoded, ok, c)
	}
}
