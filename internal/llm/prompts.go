package llm

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

//go:embed prompts/label.txt
var labelPrompt string

// LabelPrompt returns the fixed instruction text sent with every label image.
func LabelPrompt() string {
	return labelPrompt
}

// PromptHash returns a short stable fingerprint of the label prompt for logs.
func PromptHash() string {
	sum := sha256.Sum256([]byte(labelPrompt))
	return hex.EncodeToString(sum[:])[:12]
}
