package tgui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscaping(t *testing.T) {
	assert.Equal(t, H("&lt;b&gt; &amp; &#34;x&#34;"), Esc(`<b> & "x"`))
	assert.Equal(t, H("<b>a&lt;b</b>"), B("a<b"))
	assert.Equal(t, H("<code>1.5</code>"), Code("1.5"))
	assert.Equal(t, H(`<a href="https://x.test/?a=1&amp;b=2">go</a>`), Link("go", "https://x.test/?a=1&b=2"))
	assert.Equal(t, H("Склад: <b>Коледино</b>"), Field("Склад:", "Коледино"))
}

func TestJoinH(t *testing.T) {
	assert.Equal(t, H(""), JoinH("\n"))
	assert.Equal(t, H("a\nb"), JoinH("\n", "a", " ", "b"))
}
