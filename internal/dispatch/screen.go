package dispatch

import "strings"

// forbiddenTokens are fragments that never belong in an argument handed to a
// node-control tool: shell chaining, path escapes, privilege and remote
// access commands, URLs.
var forbiddenTokens = []string{
	";", "&&", "||", "|", "`", "$(",
	"../", "~", "sudo", "rm ", "chmod",
	"chown", "ssh", "scp",
	"http://", "https://",
}

// forbiddenToken reports the first forbidden fragment found in value.
func forbiddenToken(value string) (string, bool) {
	lowered := strings.ToLower(value)
	for _, token := range forbiddenTokens {
		if strings.Contains(lowered, token) {
			return token, true
		}
	}
	return "", false
}
