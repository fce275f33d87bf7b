package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"sports.*", "sports.cricket", true},
		{"sports.*", "sports", false},
		{"sports.*", "sports.cricket.batsmen", false},
		{"sports.#", "sports", true},
		{"sports.#", "sports.cricket", true},
		{"sports.#", "sports.cricket.batsmen.100s", true},
		{"*.cricket.bowlers", "srilanka.cricket.bowlers", true},
		{"*.cricket.bowlers", "cricket.bowlers", false},
		{"#", "", true},
		{"#", "a.b.c", true},
		{"", "", true},
		{"", "a", false},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.z", "a.b.c", false},
		{"#.#", "a", true},
		{"*", "", false},
		{"a.*.#", "a", false},
		{"a.*.#", "a.b", true},
		{"exact.key", "exact.key", true},
		{"exact.key", "exact.keys", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, topicMatch(tt.pattern, tt.key), "pattern %q key %q", tt.pattern, tt.key)
	}
}
