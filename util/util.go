package util

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
)

//go:embed version.txt
var embeddedVersion string

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

func PublicKeyToString(s ssh.PublicKey) string {
	return strings.TrimSpace(string(gossh.MarshalAuthorizedKey(s)))
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// ContentToHTML escapes operator input and converts Markdown links [text](url)
// to <a> tags, which is the form note content is published in.
func ContentToHTML(text string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	var out strings.Builder
	last := 0
	for _, m := range markdownLink.FindAllStringSubmatchIndex(normalized, -1) {
		out.WriteString(html.EscapeString(normalized[last:m[0]]))
		linkText := html.EscapeString(normalized[m[2]:m[3]])
		linkURL := html.EscapeString(normalized[m[4]:m[5]])
		fmt.Fprintf(&out, `<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, linkURL, linkText)
		last = m[1]
	}
	out.WriteString(html.EscapeString(normalized[last:]))
	return out.String()
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}
