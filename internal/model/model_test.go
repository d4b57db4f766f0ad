package model

import (
	"math/rand"
	"testing"
	"testing/quick"
)

// TestSerializeDeserializeRoundTrip pins the round-trip property:
// deserialize(serialize(v)) == v for any float32 vector.
func TestSerializeDeserializeRoundTrip(t *testing.T) {
	f := func(seed int64, n uint8) bool {
		r := rand.New(rand.NewSource(seed))
		v := make([]float32, int(n)%64)
		for i := range v {
			v[i] = r.Float32()*2 - 1
		}
		got := DeserializeEmbedding(SerializeEmbedding(v))
		if len(got) != len(v) {
			return false
		}
		for i := range v {
			if got[i] != v[i] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestSerializeDeserializeEmpty(t *testing.T) {
	got := DeserializeEmbedding(SerializeEmbedding(nil))
	if len(got) != 0 {
		t.Fatalf("expected empty vector, got %v", got)
	}
}

func TestBuildDocument(t *testing.T) {
	cases := []struct {
		name, description, content, want string
	}{
		{"", "", "  hello world  ", "hello world"},
		{"Title", "", "body", "Title\nbody"},
		{"", "Desc", "body", "Desc\nbody"},
		{"Title", "Desc", "body", "Title\nDesc\nbody"},
		{"Title", "", "", "Title"},
		{"", "", "", ""},
		{"  ", "  ", "  ", ""},
	}
	for _, c := range cases {
		got := BuildDocument(c.name, c.description, c.content)
		if got != c.want {
			t.Errorf("BuildDocument(%q, %q, %q) = %q, want %q", c.name, c.description, c.content, got, c.want)
		}
	}
}
