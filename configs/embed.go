// Package configs embeds the configuration template written by
// `agentbrain init`. Embedding keeps the template available in every
// distribution channel, source builds included.
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated project configuration written
// to .claude/agent-brain/config.yaml by init. Every value mirrors a
// built-in default, so the file is documentation until edited.
//
//go:embed default.yaml
var DefaultConfigTemplate string
