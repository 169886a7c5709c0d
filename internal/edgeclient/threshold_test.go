package edgeclient

import "testing"

func TestShouldUseChunkedTransfer(t *testing.T) {
	cases := []struct {
		name    string
		size    uint64
		thresh  uint64
		enabled bool
		want    bool
	}{
		{"below threshold", 10, 100, true, false},
		{"at threshold", 100, 100, true, true},
		{"above threshold", 200, 100, true, true},
		{"disabled overrides size", 200, 100, false, false},
		{"zero threshold uses default", DefaultChunkedTransferThreshold + 1, 0, true, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ShouldUseChunkedTransfer(c.size, c.thresh, c.enabled)
			if got != c.want {
				t.Errorf("ShouldUseChunkedTransfer(%d, %d, %v) = %v, want %v", c.size, c.thresh, c.enabled, got, c.want)
			}
		})
	}
}
