package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alarmist/internal/alarmid"
)

func TestAllMatchesEverything(t *testing.T) {
	assert.True(t, Match(All(), alarmid.Leaf(alarmid.Atom("disk.pressure"))))
	assert.True(t, Match(All(), alarmid.Tagged(alarmid.Atom("host.down"), "node1")))
}

func TestLeafMatchesExactAtom(t *testing.T) {
	p := Leaf(alarmid.Atom("disk.pressure"))
	assert.True(t, Match(p, alarmid.Leaf(alarmid.Atom("disk.pressure"))))
	assert.False(t, Match(p, alarmid.Leaf(alarmid.Atom("disk.other"))))
	assert.False(t, Match(p, alarmid.Tagged(alarmid.Atom("disk.pressure"), "x")))
}

func TestTaggedExactParams(t *testing.T) {
	p := Tagged(alarmid.Atom("host.down"), Value("node1"), Value(int64(2)))
	assert.True(t, Match(p, alarmid.Tagged(alarmid.Atom("host.down"), "node1", int64(2))))
	assert.False(t, Match(p, alarmid.Tagged(alarmid.Atom("host.down"), "node2", int64(2))))
}

func TestTaggedWildcardParam(t *testing.T) {
	p := Tagged(alarmid.Atom("host.down"), WildParam())
	assert.True(t, Match(p, alarmid.Tagged(alarmid.Atom("host.down"), "node1")))
	assert.True(t, Match(p, alarmid.Tagged(alarmid.Atom("host.down"), "node2")))
	assert.False(t, Match(p, alarmid.Tagged(alarmid.Atom("other"), "node1")))
}

func TestTaggedWildRequiresExactArity(t *testing.T) {
	p := TaggedWild(2)
	assert.True(t, Match(p, alarmid.Tagged(alarmid.Atom("anything"), "a", "b")))
	assert.False(t, Match(p, alarmid.Tagged(alarmid.Atom("anything"), "a")))
	assert.False(t, Match(p, alarmid.Leaf(alarmid.Atom("anything"))))
}

func TestParamEqualNormalisesIntTypes(t *testing.T) {
	p := Tagged(alarmid.Atom("host.down"), Value(2))
	assert.True(t, Match(p, alarmid.Tagged(alarmid.Atom("host.down"), int64(2))))
}

func TestStringRendering(t *testing.T) {
	assert.Equal(t, Wildcard, All().String())
	assert.Equal(t, "disk.pressure", Leaf(alarmid.Atom("disk.pressure")).String())
	assert.Equal(t, "{host.down, node1, _}", Tagged(alarmid.Atom("host.down"), Value("node1"), WildParam()).String())
	assert.Equal(t, "{_, _}", TaggedWild(1).String())
}
