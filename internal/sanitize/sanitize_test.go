package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tcases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "hello world", expected: "hello world"},
		{name: "empty", input: "", expected: ""},
		{name: "bold", input: "<b>hi</b> there", expected: "hi there"},
		{name: "script", input: "<script>alert(1)</script>", expected: ""},
		{name: "style", input: "a<style>body{}</style>b", expected: "ab"},
		{name: "attributes", input: `<a href="javascript:x" onclick="y">link</a>`, expected: "link"},
		{name: "entities kept escaped", input: "1 &lt; 2", expected: "1 &lt; 2"},
		{name: "quotes escaped", input: `say "hi" & 'bye'`, expected: "say &#34;hi&#34; &amp; &#39;bye&#39;"},
		{name: "whitespace trimmed", input: "  <i> x </i>  ", expected: "x"},
		{name: "unicode", input: "你好 <br/>世界", expected: "你好 世界"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Text(tc.input))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "hi", Message("<b>hi</b>"))
	assert.Equal(t, UnsafePlaceholder, Message("<script>alert(1)</script>"))
	assert.Equal(t, UnsafePlaceholder, Message("<img src=x onerror=alert(1)>"))
	assert.Equal(t, "", Message(""))
	assert.Equal(t, "", Message("   "))
}
