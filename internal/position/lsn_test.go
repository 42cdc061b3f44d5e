package position

import "testing"

func TestParseLSNZero(t *testing.T) {
	lsn, err := ParseLSN(Zero)
	if err != nil {
		t.Fatalf("ParseLSN(Zero): %v", err)
	}
	if lsn != 0 {
		t.Fatalf("ParseLSN(Zero) = %v, want 0", lsn)
	}
}

func TestParseLSNRoundTrip(t *testing.T) {
	lsn, err := ParseLSN(Token("16/B374D848"))
	if err != nil {
		t.Fatalf("ParseLSN: %v", err)
	}
	if got := FromLSN(lsn); got != "16/B374D848" {
		t.Fatalf("FromLSN round-trip = %q, want 16/B374D848", got)
	}
}

func TestCompareAndAdvance(t *testing.T) {
	a, _ := ParseLSN(Token("0/100"))
	b := AddBytes(a, 0x10)
	if Compare(a, b) != -1 {
		t.Fatalf("expected a < b")
	}
	if Compare(b, a) != 1 {
		t.Fatalf("expected b > a")
	}
	if Compare(a, a) != 0 {
		t.Fatalf("expected a == a")
	}
	if NextByte(a) != a+1 {
		t.Fatalf("NextByte mismatch")
	}
}
