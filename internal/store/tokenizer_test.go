package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.input))
		})
	}
}

func TestSplitCodeToken_SnakeCase(t *testing.T) {
	assert.Equal(t, []string{"chunk", "id"}, SplitCodeToken("chunk_id"))
	assert.Equal(t, []string{"get", "User", "name"}, SplitCodeToken("getUser_name"))
}

func TestTokenizeCode(t *testing.T) {
	tokens := TokenizeCode("func resolveProjectRoot(startPath string)")

	assert.Contains(t, tokens, "resolve")
	assert.Contains(t, tokens, "project")
	assert.Contains(t, tokens, "root")
	assert.Contains(t, tokens, "start")
	assert.Contains(t, tokens, "path")
	// Single-character fragments are dropped.
	assert.NotContains(t, tokens, "a")
}

func TestTokenizeCode_Lowercases(t *testing.T) {
	tokens := TokenizeCode("HTTPServer")
	assert.Equal(t, []string{"http", "server"}, tokens)
}

func TestBuildStopWordMap(t *testing.T) {
	m := BuildStopWordMap([]string{"The", "and"})
	_, hasThe := m["the"]
	_, hasAnd := m["and"]
	assert.True(t, hasThe)
	assert.True(t, hasAnd)
}
