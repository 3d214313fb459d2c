package gpt

import (
	"reflect"
	"testing"
)

func TestSegments(t *testing.T) {
	m := newSpecialMatcher(map[string]int{"<e>": 1, "<eos>": 2, "<unk>": 0})

	var got []segment
	for seg := range m.segments("a<eos>b<e><unk>") {
		got = append(got, seg)
	}
	want := []segment{
		{text: "a"},
		{id: 2, special: true},
		{text: "b"},
		{id: 1, special: true},
		{id: 0, special: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments = %+v, want %+v", got, want)
	}
}

func TestSegmentsNoSpecials(t *testing.T) {
	m := newSpecialMatcher(nil)
	var got []segment
	for seg := range m.segments("plain <text>") {
		got = append(got, seg)
	}
	if want := []segment{{text: "plain <text>"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("segments = %+v", got)
	}
}
