package mediator

import (
	"regexp"
	"strings"
)

// fieldNamePattern matches one GraphQL name token. extractTopLevelFields
// uses it to read root-level field names from an operation document's
// selection set, e.g. "query { viewer { id } }" -> ["viewer"], in a single
// pass over the body after the first "{" — nested selections are skipped by
// tracking brace depth, arguments by tracking parenthesis depth.
var fieldNamePattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// extractTopLevelFields implements the "per-field procedure" input of spec
// §4.B step 6 for the raw <source>.query/<source>.mutation passthrough
// tools: it parses just enough of the document to find the field names
// selected at the operation's root, ignoring nested selections and
// arguments. For an aliased selection ("alias: field") both the alias and
// the underlying field name are returned, so a policy written against the
// underlying field still applies.
func extractTopLevelFields(document string) []string {
	start := strings.IndexByte(document, '{')
	if start < 0 {
		return nil
	}
	body := document[start+1:]

	var fields []string
	depth, parens := 0, 0
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == '(':
			parens++
			i++
		case c == ')':
			parens--
			i++
		case c == '{':
			depth++
			i++
		case c == '}':
			if depth == 0 {
				return fields
			}
			depth--
			i++
		case depth == 0 && parens == 0 && isFieldStart(c):
			loc := fieldNamePattern.FindStringIndex(body[i:])
			if loc == nil {
				i++
				continue
			}
			name := body[i+loc[0] : i+loc[1]]
			fields = append(fields, name)
			i += loc[1]
		default:
			i++
		}
	}
	return fields
}

func isFieldStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
