package events

import (
	"fmt"
	"log"
	"testing"
)

func TestRingPullAfterSeq(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Push(Event{Topic: "t", Payload: []byte(fmt.Sprint(i))})
	}
	got := r.Pull(0, 10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (ring size)", len(got))
	}
	if string(got[0].Payload) != "2" || got[0].Seq != 3 {
		t.Errorf("oldest = %+v, want payload 2 seq 3", got[0])
	}
	if next := r.Pull(got[1].Seq, 10); len(next) != 1 || string(next[0].Payload) != "4" {
		t.Errorf("Pull(after) = %+v", next)
	}
	if limited := r.Pull(0, 2); len(limited) != 2 || string(limited[1].Payload) != "3" {
		t.Errorf("Pull(max=2) = %+v", limited)
	}
}

func TestLineWriterSplitsLines(t *testing.T) {
	r := NewRing(16)
	w := NewLineWriter(r, "log")

	fmt.Fprint(w, "first line\nsecond ")
	fmt.Fprint(w, "half\r\n\n")
	l := log.New(w, "", 0)
	l.Printf("[udp] from logger")

	got := r.Pull(0, 16)
	want := []string{"first line", "second half", "[udp] from logger"}
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, e := range got {
		if string(e.Payload) != want[i] || e.Topic != "log" {
			t.Errorf("event %d = %q/%s, want %q/log", i, e.Payload, e.Topic, want[i])
		}
	}
}
