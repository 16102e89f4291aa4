package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "refulearn:", escapeGlob("refulearn:"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, `back\\slash`, escapeGlob(`back\slash`))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, dedupe(nil))
}

func TestKeyValueSurface_Key(t *testing.T) {
	s := &kvSurface{keyPrefix: "refulearn:"}
	assert.Equal(t, "refulearn:jobs", s.key("jobs"))
	assert.Equal(t, "redis", s.Name())
}
