// Package template implements the logic-less renderer used for email subjects
// and bodies. The surface is a small handlebars dialect: dotted path lookups,
// each/if/isTruthy blocks, eq, and the now/formatDate date helpers.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/payload"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

var nowColonPattern = regexp.MustCompile(`\{\{\s*now:([^}]+)\}\}`)

// Render evaluates the template against a context tree of maps, lists and
// scalars. Rendering never fails the caller: on any error the original
// template text is returned and the error logged.
func Render(tmpl string, context map[string]interface{}) string {
	out, err := render(Preprocess(tmpl), context)
	if err != nil {
		logger.Warn("Template rendering failed, returning original text: %v", err)
		return tmpl
	}
	return out
}

// Preprocess rewrites the {{now:PATTERN}} shorthand into the canonical
// {{now "PATTERN"}} form
func Preprocess(tmpl string) string {
	return nowColonPattern.ReplaceAllString(tmpl, `{{now "$1"}}`)
}

func render(tmpl string, root interface{}) (string, error) {
	var b strings.Builder
	for {
		i := strings.Index(tmpl, openDelim)
		if i < 0 {
			b.WriteString(tmpl)
			return b.String(), nil
		}
		b.WriteString(tmpl[:i])
		tmpl = tmpl[i:]

		j := strings.Index(tmpl, closeDelim)
		if j < 0 {
			return "", fmt.Errorf("unclosed tag near %q", truncateForError(tmpl))
		}
		tag := strings.TrimSpace(tmpl[len(openDelim):j])
		rest := tmpl[j+len(closeDelim):]

		switch {
		case strings.HasPrefix(tag, "#each "):
			body, after, err := blockBody(rest, "each")
			if err != nil {
				return "", err
			}
			out, err := renderEach(strings.TrimSpace(tag[len("#each "):]), body, root)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			tmpl = after

		case strings.HasPrefix(tag, "#if "):
			body, after, err := blockBody(rest, "if")
			if err != nil {
				return "", err
			}
			thenBody, elseBody := splitElse(body)
			chosen := elseBody
			if isTruthy(resolvePath(root, strings.TrimSpace(tag[len("#if "):]))) {
				chosen = thenBody
			}
			out, err := render(chosen, root)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			tmpl = after

		case strings.HasPrefix(tag, "isTruthy "):
			body, after, err := blockBody(rest, "isTruthy")
			if err != nil {
				return "", err
			}
			if isTruthy(resolvePath(root, strings.TrimSpace(tag[len("isTruthy "):]))) {
				out, err := render(body, root)
				if err != nil {
					return "", err
				}
				b.WriteString(out)
			}
			tmpl = after

		case tag == "now" || strings.HasPrefix(tag, "now "):
			out, err := renderNow(tag)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			tmpl = rest

		case strings.HasPrefix(tag, "formatDate "):
			out, err := renderFormatDate(tag, root)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			tmpl = rest

		case strings.HasPrefix(tag, "eq "):
			args := splitArgs(tag[len("eq "):])
			if len(args) != 2 {
				return "", fmt.Errorf("eq needs two arguments, got %d", len(args))
			}
			a := formatValue(resolveArg(root, args[0]))
			v := formatValue(resolveArg(root, args[1]))
			b.WriteString(strconv.FormatBool(strings.EqualFold(a, v)))
			tmpl = rest

		default:
			b.WriteString(formatValue(resolvePath(root, tag)))
			tmpl = rest
		}
	}
}

// blockBody finds the matching {{/name}} for an already-consumed opener,
// counting nested blocks of any kind
func blockBody(tmpl, name string) (body, after string, err error) {
	closer := openDelim + "/" + name + closeDelim
	depth := 0
	pos := 0
	for {
		i := strings.Index(tmpl[pos:], openDelim)
		if i < 0 {
			return "", "", fmt.Errorf("missing %s", closer)
		}
		i += pos
		j := strings.Index(tmpl[i:], closeDelim)
		if j < 0 {
			return "", "", fmt.Errorf("unclosed tag near %q", truncateForError(tmpl[i:]))
		}
		tag := strings.TrimSpace(tmpl[i+len(openDelim) : i+j])
		end := i + j + len(closeDelim)

		switch {
		case isBlockOpener(tag):
			depth++
		case strings.HasPrefix(tag, "/"):
			if depth == 0 {
				if tag != "/"+name {
					return "", "", fmt.Errorf("expected %s, found {{%s}}", closer, tag)
				}
				return tmpl[:i], tmpl[end:], nil
			}
			depth--
		}
		pos = end
	}
}

func isBlockOpener(tag string) bool {
	return strings.HasPrefix(tag, "#each ") ||
		strings.HasPrefix(tag, "#if ") ||
		strings.HasPrefix(tag, "isTruthy ")
}

// splitElse splits an if body at its top-level {{else}}
func splitElse(body string) (thenBody, elseBody string) {
	depth := 0
	pos := 0
	for {
		i := strings.Index(body[pos:], openDelim)
		if i < 0 {
			return body, ""
		}
		i += pos
		j := strings.Index(body[i:], closeDelim)
		if j < 0 {
			return body, ""
		}
		tag := strings.TrimSpace(body[i+len(openDelim) : i+j])
		end := i + j + len(closeDelim)

		switch {
		case isBlockOpener(tag):
			depth++
		case strings.HasPrefix(tag, "/"):
			depth--
		case tag == "else" && depth == 0:
			return body[:i], body[end:]
		}
		pos = end
	}
}

func renderEach(listPath, body string, root interface{}) (string, error) {
	value := resolvePath(root, listPath)
	list, ok := value.([]interface{})
	if !ok || len(list) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, item := range list {
		// The current item becomes the context root inside the block
		out, err := render(body, item)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func renderNow(tag string) (string, error) {
	args := splitArgs(strings.TrimPrefix(tag, "now"))
	if len(args) != 1 {
		return "", fmt.Errorf("now needs a pattern argument")
	}
	pattern, ok := unquoteArg(args[0])
	if !ok {
		return "", fmt.Errorf("now pattern must be quoted: %s", args[0])
	}
	return time.Now().Format(translateDatePattern(pattern)), nil
}

func renderFormatDate(tag string, root interface{}) (string, error) {
	args := splitArgs(tag[len("formatDate "):])
	if len(args) != 2 {
		return "", fmt.Errorf("formatDate needs a value and a pattern")
	}
	pattern, ok := unquoteArg(args[1])
	if !ok {
		return "", fmt.Errorf("formatDate pattern must be quoted: %s", args[1])
	}

	value := resolveArg(root, args[0])
	switch v := value.(type) {
	case nil:
		return "", nil
	case time.Time:
		return v.Format(translateDatePattern(pattern)), nil
	default:
		s := formatValue(v)
		if s == "" {
			return "", nil
		}
		t := payload.ParseTimestamp(s)
		if t == nil {
			return "", fmt.Errorf("formatDate cannot parse %q", s)
		}
		return t.Format(translateDatePattern(pattern)), nil
	}
}

// Uppercase tokens are folded into their lowercase forms first; YYYY must be
// replaced before YY
var datePatternReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"yyyy", "2006",
	"YY", "06",
	"yy", "06",
	"MM", "01",
	"DD", "02",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func translateDatePattern(pattern string) string {
	return datePatternReplacer.Replace(pattern)
}

// resolvePath walks a dotted path through maps and lists. Missing paths
// resolve to nil. A list answers "length" and numeric indexes.
func resolvePath(root interface{}, path string) interface{} {
	if path == "this" || path == "." {
		return root
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[segment]
		case []interface{}:
			if segment == "length" {
				current = float64(len(v))
				continue
			}
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

// resolveArg treats quoted arguments as literals and everything else as a
// path
func resolveArg(root interface{}, arg string) interface{} {
	if literal, ok := unquoteArg(arg); ok {
		return literal
	}
	return resolvePath(root, arg)
}

func unquoteArg(arg string) (string, bool) {
	if len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"' {
		return arg[1 : len(arg)-1], true
	}
	return "", false
}

// splitArgs splits helper arguments on whitespace, keeping quoted strings
// intact
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

// isTruthy implements the renderer's falsiness rules: nil, false, zero,
// empty containers, and the strings "null", "false" and "0" in any case
func isTruthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		if v == "" {
			return false
		}
		switch strings.ToLower(v) {
		case "null", "false", "0":
			return false
		}
		return true
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}

// formatValue renders a context value as text. Whole-number floats print
// without a fractional part so JSON integers render naturally.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncateForError(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}
