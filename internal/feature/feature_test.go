package feature

import "testing"

func TestExpectedFramesMatchesFixedStrideFormula(t *testing.T) {
	// 25ms window, 10ms hop at 16kHz: window=400, hop=160.
	cases := []struct {
		samples int
		want    int
	}{
		{samples: 399, want: 0},
		{samples: 400, want: 1},
		{samples: 560, want: 2},
		{samples: 561, want: 2},
	}
	for _, c := range cases {
		got := ExpectedFrames(c.samples, 16000)
		if got != c.want {
			t.Errorf("ExpectedFrames(%d) = %d, want %d", c.samples, got, c.want)
		}
	}
}
