package changefeed

import "testing"

func TestMajorVersion(t *testing.T) {
	cases := map[string]int{
		"6.0.4": 6,
		"4.0":   4,
		"3.6.1": 3,
	}
	for in, want := range cases {
		got, err := majorVersion(in)
		if err != nil {
			t.Fatalf("majorVersion(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("majorVersion(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestClassifyStreamErr_PositionLost(t *testing.T) {
	err := classifyStreamErr(errResumePointGone{})
	if err != ErrPositionLost {
		t.Fatalf("expected ErrPositionLost, got %v", err)
	}
}

type errResumePointGone struct{}

func (errResumePointGone) Error() string {
	return "resume point may not be in the oplog anymore"
}
