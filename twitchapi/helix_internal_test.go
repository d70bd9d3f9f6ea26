package twitchapi

import "testing"

func TestChunk(t *testing.T) {
	got := chunk([]string{"a", "b", "c"}, 2)
	if len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 1 {
		t.Errorf("chunk = %v", got)
	}
	if len(chunk(nil, 2)) != 0 {
		t.Error("chunk(nil) should be empty")
	}
}
