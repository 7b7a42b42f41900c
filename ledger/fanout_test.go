package ledger

import "testing"

func TestFanoutPath_RoundTripsThroughUnfanoutPath(t *testing.T) {
	t.Parallel()

	cases := []string{
		"00000000000000000000-00000000000000000099-block-chunk.bin",
		"000000000!-arf.bin",
		"a/00000000000000000100-00000000000000000199-block-chunk.bin",
	}

	for _, logical := range cases {
		physical := fanoutPath(logical, 8)
		got := unfanoutPath(physical, 8)

		if got != logical {
			t.Fatalf("fanoutPath/unfanoutPath round trip for %q: got %q", logical, got)
		}
	}
}

func TestFanoutPath_DivergesOnceBasenamesDiffer(t *testing.T) {
	t.Parallel()

	a := fanoutPath("00000000000000000000-00000000000000000099-block-chunk.bin", 8)
	b := fanoutPath("00000000000000000100-00000000000000000199-block-chunk.bin", 8)

	if a == b {
		t.Fatalf("fanoutPath should map different basenames to different physical paths, got equal paths %q", a)
	}
}

func TestFanoutPath_ZeroDepthIsIdentity(t *testing.T) {
	t.Parallel()

	logical := "0000000042-arf.bin"

	if got := fanoutPath(logical, 0); got != logical {
		t.Fatalf("fanoutPath(%q, 0) = %q, want unchanged", logical, got)
	}

	if got := unfanoutPath(logical, 0); got != logical {
		t.Fatalf("unfanoutPath(%q, 0) = %q, want unchanged", logical, got)
	}
}

func TestFanoutKey_StripsExtensionAndCompressionSuffix(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		basename string
		want     string
	}{
		{"0000000042-arf.bin", "0000000042-arf"},
		{"0000000042-arf.bin.gz", "0000000042-arf"},
		{"noext", "noext"},
	} {
		if got := fanoutKey(tc.basename); got != tc.want {
			t.Fatalf("fanoutKey(%q) = %q, want %q", tc.basename, got, tc.want)
		}
	}
}
