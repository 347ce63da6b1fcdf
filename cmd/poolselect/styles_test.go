package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
)

func TestRenderLevels(t *testing.T) {
	out := renderLevels([]selection.PreferenceLevel{
		{Preference: 20, Tag: "tape", Pools: []string{"p1", "p2"}},
		{Preference: 10, Pools: []string{"p3"}},
	})
	assert.Contains(t, out, "p1 p2")
	assert.Contains(t, out, "tape")
	assert.Contains(t, out, "p3")

	assert.Contains(t, renderLevels(nil), "no pool matches")
}

func TestRenderReplica(t *testing.T) {
	out := renderReplica(replica.Info{
		ID:     "0000A1B2C3D4E5F60718293A4B5C6D7E8F90",
		State:  "<precious>",
		Flags:  []string{"precious", "sticky"},
		Sticky: []replica.StickyRecord{{Owner: "alice", Expire: replica.NeverExpires}, {Owner: "bob", Expire: 0}},
	})
	assert.Contains(t, out, "0000A1B2C3D4E5F60718293A4B5C6D7E8F90")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "1970-01-01T00:00:00Z")
}
