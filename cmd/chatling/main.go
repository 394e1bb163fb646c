// chatling is a conversational voice assistant backend.
//
// It serves chat turns over HTTP, streams per-sentence synthesized audio,
// and keeps long-term per-session memory extracted from past conversations.
//
// Usage:
//
//	chatling serve --config chatling.yaml
package main

import (
	"os"

	"github.com/chatling/chatling/cmd/chatling/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
