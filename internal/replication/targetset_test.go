package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetSetIntersectConcrete(t *testing.T) {
	a := NewTargetSet([]string{"profile_v1", "post_v1"})
	b := NewTargetSet([]string{"post_v1", "comment_v1"})
	got := a.Intersect(b)
	assert.Equal(t, []string{"post_v1"}, got.IDs())
}

func TestTargetSetWildcardIntersect(t *testing.T) {
	a := WildcardTargetSet()
	b := NewTargetSet([]string{"profile_v1"})
	assert.Equal(t, []string{"profile_v1"}, a.Intersect(b).IDs())
	assert.True(t, a.Intersect(WildcardTargetSet()).Wildcard)
}

func TestTargetSetEmptyIntersectionRejected(t *testing.T) {
	a := NewTargetSet([]string{"profile_v1"})
	b := NewTargetSet([]string{"post_v1"})
	assert.True(t, a.Intersect(b).Empty())
}

func TestTargetSetDedupesAndSorts(t *testing.T) {
	s := NewTargetSet([]string{"b", "a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, s.IDs())
}
