package textutil

import "testing"

func Test_Clean_Normalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and trims", "  Opening Hours?  ", "opening hours?"},
		{"collapses repeated punctuation", "really??!!", "really."},
		{"single terminal mark kept", "when do you open?", "when do you open?"},
		{"strips special characters", "price: $5 (approx)", "price 5 approx"},
		{"removes stop words", "chào bạn dạ vâng ạ", "bạn vâng"},
		{"empty input", "", ""},
		{"whitespace only", "   \t\n", ""},
		{"special characters only", "@#$%^&*", ""},
		{"keeps unicode letters", "giờ mở cửa", "giờ mở cửa"},
		{"collapses inner whitespace", "a   b\t c", "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func Test_Clean_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"Opening Hours??", "chào! xin giá bao nhiêu?", "plain text"}
	for _, in := range inputs {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
