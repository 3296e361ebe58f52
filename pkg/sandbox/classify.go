package sandbox

import (
	"fmt"
	"strings"

	"github.com/harun/hookhost/pkg/plugin"
)

var (
	readKeywords = map[string]bool{
		"SELECT":  true,
		"EXPLAIN": true,
	}
	writeKeywords = map[string]bool{
		"INSERT":   true,
		"UPDATE":   true,
		"DELETE":   true,
		"CREATE":   true,
		"ALTER":    true,
		"DROP":     true,
		"TRUNCATE": true,
		"REPLACE":  true,
	}

	// pragmaQueries take an argument and only report on the schema
	pragmaQueries = map[string]bool{
		"table_info":        true,
		"table_xinfo":       true,
		"index_list":        true,
		"index_info":        true,
		"index_xinfo":       true,
		"foreign_key_list":  true,
		"foreign_key_check": true,
		"integrity_check":   true,
		"quick_check":       true,
	}

	// pragmaReaders report a value when called bare. The same names set it
	// when given a value.
	pragmaReaders = map[string]bool{
		"table_list":      true,
		"database_list":   true,
		"collation_list":  true,
		"function_list":   true,
		"module_list":     true,
		"pragma_list":     true,
		"compile_options": true,
		"user_version":    true,
		"application_id":  true,
		"schema_version":  true,
		"data_version":    true,
		"page_size":       true,
		"page_count":      true,
		"freelist_count":  true,
		"encoding":        true,
		"journal_mode":    true,
		"foreign_keys":    true,
		"cache_size":      true,
		"busy_timeout":    true,
		"synchronous":     true,
	}
)

// Classify returns the permission a query needs. A query holding several
// statements needs the strongest permission any of them needs.
func Classify(query string) (plugin.Permission, error) {
	a, err := analyze(query)
	if err != nil {
		return plugin.PermissionNone, err
	}
	return a.permission, nil
}

// analysis is a tokenized and classified query
type analysis struct {
	permission plugin.Permission
	statements int
	tokens     []token
}

func analyze(query string) (*analysis, error) {
	tokens, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	stmts := splitStatements(tokens)
	if len(stmts) == 0 {
		return nil, fmt.Errorf("%w: empty query", ErrUnsupportedCommand)
	}

	a := &analysis{
		permission: plugin.PermissionDatabaseRead,
		statements: len(stmts),
		tokens:     tokens,
	}
	for _, stmt := range stmts {
		permission, err := classifyStatement(stmt)
		if err != nil {
			return nil, err
		}
		if permission == plugin.PermissionDatabaseWrite {
			a.permission = permission
		}
	}
	return a, nil
}

func classifyStatement(stmt []token) (plugin.Permission, error) {
	keyword := stmt[0].keyword()
	switch {
	case readKeywords[keyword]:
		return plugin.PermissionDatabaseRead, nil
	case writeKeywords[keyword]:
		return plugin.PermissionDatabaseWrite, nil
	case keyword == "WITH":
		if containsDML(stmt[1:]) {
			return plugin.PermissionDatabaseWrite, nil
		}
		return plugin.PermissionDatabaseRead, nil
	case keyword == "PRAGMA":
		return classifyPragma(stmt[1:])
	case keyword == "":
		return plugin.PermissionNone, fmt.Errorf("%w: statement starts with %q", ErrUnsupportedCommand, stmt[0].text)
	default:
		return plugin.PermissionNone, fmt.Errorf("%w: %s", ErrUnsupportedCommand, keyword)
	}
}

// containsDML reports whether a common table expression ends in, or
// contains, a data-modifying statement
func containsDML(stmt []token) bool {
	for i, t := range stmt {
		switch t.keyword() {
		case "INSERT", "UPDATE", "DELETE":
			return true
		case "REPLACE":
			// replace() is also a scalar function
			if i+1 < len(stmt) && stmt[i+1].keyword() == "INTO" {
				return true
			}
		}
	}
	return false
}

// classifyPragma treats anything that is not a known read form as a write
func classifyPragma(rest []token) (plugin.Permission, error) {
	if len(rest) == 0 {
		return plugin.PermissionNone, fmt.Errorf("%w: PRAGMA without a name", ErrUnsupportedCommand)
	}

	name, i := rest[0], 1
	if len(rest) > 2 && rest[1].is(".") {
		name, i = rest[2], 3
	}
	if name.kind != tokenWord && name.kind != tokenIdent {
		return plugin.PermissionNone, fmt.Errorf("%w: PRAGMA %s", ErrUnsupportedCommand, name.text)
	}
	pragma := strings.ToLower(name.text)

	switch {
	case i == len(rest):
		if pragmaReaders[pragma] || pragmaQueries[pragma] {
			return plugin.PermissionDatabaseRead, nil
		}
	case rest[i].is("("):
		if pragmaQueries[pragma] {
			return plugin.PermissionDatabaseRead, nil
		}
	}
	return plugin.PermissionDatabaseWrite, nil
}

// splitStatements cuts tokens at top-level semicolons. Semicolons inside a
// trigger body or a CASE expression do not end the statement.
func splitStatements(tokens []token) [][]token {
	var (
		stmts [][]token
		cur   []token
		depth int
	)
	for _, t := range tokens {
		if t.is(";") && depth == 0 {
			if len(cur) > 0 {
				stmts = append(stmts, cur)
			}
			cur = nil
			continue
		}

		switch t.keyword() {
		case "CASE":
			depth++
		case "BEGIN":
			if len(cur) > 0 && cur[0].keyword() == "CREATE" {
				depth++
			}
		case "END":
			if depth > 0 {
				depth--
			}
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		stmts = append(stmts, cur)
	}
	return stmts
}

type tokenKind int

const (
	tokenWord   tokenKind = iota // keyword or bare identifier
	tokenIdent                   // quoted identifier
	tokenString                  // string literal, unquoted
	tokenNumber
	tokenParam
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) keyword() string {
	if t.kind != tokenWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) is(punct string) bool {
	return t.kind == tokenPunct && t.text == punct
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// tokenize splits query into SQLite tokens, dropping whitespace and comments
func tokenize(query string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f':
			i++

		case strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return tokens, nil
			}
			i += end + 1

		case strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated comment", ErrUnsupportedCommand)
			}
			i += end + 4

		case c == '\'' || c == '"' || c == '`' || c == '[':
			closing := c
			if c == '[' {
				closing = ']'
			}
			text, n, ok := quoted(query[i:], closing)
			if !ok {
				return nil, fmt.Errorf("%w: unterminated %c", ErrUnsupportedCommand, c)
			}
			kind := tokenIdent
			if c == '\'' {
				kind = tokenString
			}
			tokens = append(tokens, token{kind: kind, text: text})
			i += n

		case c == '?' || c == ':' || c == '@' || c == '$':
			j := i + 1
			for j < len(query) && isWordByte(query[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenParam, text: query[i:j]})
			i = j

		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(query) && (isWordByte(query[j]) || query[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: query[i:j]})
			i = j

		case isWordByte(c):
			j := i + 1
			for j < len(query) && isWordByte(query[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenWord, text: query[i:j]})
			i = j

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: query[i : i+1]})
			i++
		}
	}
	return tokens, nil
}

// quoted reads a literal opened by s[0] and closed by closing, where a
// doubled closing character stands for itself. It returns the unquoted text
// and the number of bytes consumed.
func quoted(s string, closing byte) (string, int, bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != closing {
			b.WriteByte(s[i])
			continue
		}
		if closing != ']' && i+1 < len(s) && s[i+1] == closing {
			b.WriteByte(closing)
			i++
			continue
		}
		return b.String(), i + 1, true
	}
	return "", 0, false
}
