package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type player struct {
	name string
	State
}

func TestRankUsers(t *testing.T) {
	players := []player{
		{"a", State{Level: 0, Exp: 900}},
		{"b", State{Level: 1, Exp: 0}},
		{"c", State{Level: 3, Exp: 10}},
		{"d", State{Level: 0, Exp: 900}},
		{"e", State{Level: 0, Exp: 0}},
	}

	ranked := RankUsers(players)

	names := make([]string, len(ranked))
	for i, p := range ranked {
		names[i] = p.name
	}
	assert.Equal(t, []string{"c", "b", "a", "d", "e"}, names)

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].TotalExp(), ranked[i].TotalExp())
	}

	// Input order is untouched.
	assert.Equal(t, "a", players[0].name)
}

func TestRankOf(t *testing.T) {
	ranked := RankUsers([]player{
		{"low", State{Level: 0, Exp: 1}},
		{"high", State{Level: 9, Exp: 1}},
	})

	assert.Equal(t, 1, RankOf(ranked, func(p player) bool { return p.name == "high" }))
	assert.Equal(t, 2, RankOf(ranked, func(p player) bool { return p.name == "low" }))
	assert.Equal(t, 0, RankOf(ranked, func(p player) bool { return p.name == "missing" }))
}

func TestAbbrev(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1000",
		1001:       "1.0k",
		12345:      "12.3k",
		87654321:   "87.65M",
		1500000000: "1.5G",
	}
	for in, want := range tests {
		assert.Equal(t, want, Abbrev(in), "Abbrev(%d)", in)
	}
}
