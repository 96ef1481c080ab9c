package jenkins

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "jenkins error page",
			body:     "<html><head><title>Error 400</title></head><body>\n<h1>Error</h1>\n<p>A job already exists with the name ‘org’</p></body></html>",
			expected: "Error A job already exists with the name ‘org’",
		},
		{
			name:     "scripts and styles dropped",
			body:     `<body><style>p { color: red }</style><script>var a = "<p>";</script><p>Oops</p></body>`,
			expected: "Oops",
		},
		{
			name:     "plain text passes through",
			body:     "no   crumb\n included",
			expected: "no crumb included",
		},
		{
			name:     "empty body",
			body:     "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run("success - "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, plainText([]byte(tt.body)))
		})
	}

	t.Run("success - long body is truncated", func(t *testing.T) {
		text := plainText([]byte("<p>" + strings.Repeat("a", 3*maxErrorTextLength) + "</p>"))

		assert.Len(t, text, maxErrorTextLength+len("..."))
		assert.True(t, strings.HasSuffix(text, "..."))
	})
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Nil(t, SplitLines("\n"))
	assert.Equal(t, []string{"a"}, SplitLines("a"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\r\n\r\nb\n"))
}
