package btaddr

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF", true},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF", true},
		{"aabbccddeeff", "AA:BB:CC:DD:EE:FF", true},
		{"  04:e8:b9:12:34:56 ", "04:E8:B9:12:34:56", true},
		{"aa:bb:cc:dd:ee", "", false},
		{"aa:bb:cc:dd:ee:ff:00", "", false},
		{"zz:bb:cc:dd:ee:ff", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("Normalize(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("Normalize(%q) expected error", tc.in)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsRandomized(t *testing.T) {
	// Locally-administered bit is 0x02 in the first octet.
	randomized := []string{
		"42:00:11:22:33:44",
		"C6:AA:BB:CC:DD:EE",
		"7A:10:20:30:40:50",
		"FE:ED:FA:CE:00:01",
	}
	for _, addr := range randomized {
		if !IsRandomized(addr) {
			t.Errorf("IsRandomized(%q) = false, want true", addr)
		}
	}
	public := []string{
		"40:00:11:22:33:44",
		"04:E8:B9:12:34:56",
		"A4:C1:38:00:00:01",
		"D8:3A:DD:99:88:77",
	}
	for _, addr := range public {
		if IsRandomized(addr) {
			t.Errorf("IsRandomized(%q) = true, want false", addr)
		}
	}
	if IsRandomized("not-an-address") {
		t.Errorf("IsRandomized on malformed input should be false")
	}
}

func TestOUIPrefix(t *testing.T) {
	if got := OUIPrefix("04:E8:B9:12:34:56"); got != "04:E8:B9" {
		t.Fatalf("OUIPrefix = %q", got)
	}
	if got := OUIPrefix("short"); got != "" {
		t.Fatalf("OUIPrefix on short input = %q, want empty", got)
	}
}
