// Package classify labels raw SQL text as read, write or unknown before it is
// allowed anywhere near a database connection.
//
// Classification is lexical: a small scanner strips comments, respects quoted
// strings and identifiers, splits the text on top-level semicolons and looks
// at the first keyword of every statement. Anything the scanner does not
// recognize is Unknown, which callers must treat as a write. MySQL
// executable comments (/*! ... */) are scanned as code.
package classify

import (
	"errors"
	"strings"
	"unicode"
)

// Classification is the derived read/write label of a statement or batch.
type Classification int

const (
	Unknown Classification = iota
	Read
	Write
)

func (c Classification) String() string {
	switch c {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// IsWrite reports whether c must be authorized as a write. Unknown counts.
func (c Classification) IsWrite() bool {
	return c != Read
}

// ErrEmptyStatement is returned when the text holds no statement at all
// once comments, whitespace and stray semicolons are removed.
var ErrEmptyStatement = errors.New("empty statement: no SQL left after removing comments and whitespace")

// Statement is one member of a batch.
type Statement struct {
	Text           string
	Keyword        string
	Classification Classification
}

// Result is the classification of a whole batch.
type Result struct {
	Classification Classification
	Statements     []Statement
}

// Keyword returns the leading keyword of the first statement that decided
// the batch classification.
func (r *Result) Keyword() string {
	for _, s := range r.Statements {
		if s.Classification == r.Classification {
			return s.Keyword
		}
	}
	if len(r.Statements) > 0 {
		return r.Statements[0].Keyword
	}
	return ""
}

var readKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"EXPLAIN":  true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
}

var writeKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"CREATE":   true,
	"ALTER":    true,
	"DROP":     true,
	"TRUNCATE": true,
	"REPLACE":  true,
	"MERGE":    true,
	"UPSERT":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"RENAME":   true,
	"COMMENT":  true,
	"CALL":     true,
	"EXEC":     true,
	"EXECUTE":  true,
	"COPY":     true,
	"LOCK":     true,
}

// dmlKeywords inside a WITH or EXPLAIN body turn the statement into a write.
var dmlKeywords = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"MERGE":  true,
}

// Classify splits sql into statements and classifies the batch. A batch is
// Write if any member is Write, Unknown if any member is Unknown, Read
// otherwise.
//
// Dialects disagree on whether a backslash escapes a quote inside a string
// literal, and each reading can hide a statement from the other. The text
// is scanned both ways and the stricter verdict wins.
func Classify(sql string) (*Result, error) {
	return classifyText(sql, false)
}

func classifyText(sql string, strict bool) (*Result, error) {
	result := classifySplit(split(sql, false), strict, false)
	if result == nil {
		return nil, ErrEmptyStatement
	}
	if escaped := classifySplit(split(sql, true), strict, true); escaped != nil {
		result.Classification = combine(result.Classification, escaped.Classification)
	}
	return result, nil
}

func classifySplit(stmts []string, strict, backslash bool) *Result {
	if len(stmts) == 0 {
		return nil
	}
	result := &Result{Classification: Read}
	for _, text := range stmts {
		st := classifyStatement(text, backslash)
		if strict && st.Classification == Read && hasStrictWord(text, backslash) {
			st.Classification = Write
		}
		result.Statements = append(result.Statements, st)
		result.Classification = combine(result.Classification, st.Classification)
	}
	return result
}

// strictWords turn a read statement into a write under ClassifyStrict
// wherever they appear as bare words. T-SQL runs several statements without
// a separating semicolon, and SELECT ... INTO creates a table or writes a
// file on SQL Server and MySQL.
var strictWords = map[string]bool{
	"INSERT":      true,
	"UPDATE":      true,
	"DELETE":      true,
	"MERGE":       true,
	"CREATE":      true,
	"ALTER":       true,
	"DROP":        true,
	"TRUNCATE":    true,
	"RENAME":      true,
	"GRANT":       true,
	"REVOKE":      true,
	"DENY":        true,
	"CALL":        true,
	"EXEC":        true,
	"EXECUTE":     true,
	"INTO":        true,
	"BACKUP":      true,
	"RESTORE":     true,
	"DBCC":        true,
	"KILL":        true,
	"SHUTDOWN":    true,
	"RECONFIGURE": true,
}

// ClassifyStrict is Classify for dialects without a parser behind it. A
// statement that reads by its first keyword becomes Write when any later
// bare word is a write keyword or INTO. REPLACE counts unless it is called
// as a function.
func ClassifyStrict(sql string) (*Result, error) {
	return classifyText(sql, true)
}

func hasStrictWord(text string, backslash bool) bool {
	words, ends := scanWords(text, backslash)
	for i := 1; i < len(words); i++ {
		switch {
		case strictWords[words[i]]:
			return true
		case words[i] == "REPLACE":
			rest := strings.TrimLeft(text[ends[i]:], " \t\r\n")
			if !strings.HasPrefix(rest, "(") {
				return true
			}
		}
	}
	return false
}

// combine returns the stricter of two classifications.
func combine(a, b Classification) Classification {
	if a == Write || b == Write {
		return Write
	}
	if a == Unknown || b == Unknown {
		return Unknown
	}
	return Read
}

func classifyStatement(text string, backslash bool) Statement {
	words, _ := scanWords(text, backslash)
	st := Statement{Text: text, Classification: Unknown}
	if len(words) == 0 {
		return st
	}
	st.Keyword = words[0]

	switch {
	case readKeywords[st.Keyword]:
		st.Classification = Read
		if st.Keyword == "WITH" || st.Keyword == "EXPLAIN" {
			for _, w := range words[1:] {
				if dmlKeywords[w] {
					st.Classification = Write
					break
				}
			}
		}
	case writeKeywords[st.Keyword]:
		st.Classification = Write
	}
	return st
}

// Words returns the upper-cased bare words of a comment-free statement,
// skipping string literals, quoted identifiers and punctuation.
func Words(text string) []string {
	words, _ := scanWords(text, false)
	return words
}

// scanWords returns the bare words of text with the byte offset just past
// each one. backslash selects the string literal reading, as in split.
func scanWords(text string, backslash bool) ([]string, []int) {
	var (
		words []string
		ends  []int
	)
	sc := scanner{src: text, backslash: backslash}
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		switch {
		case c == '\'' || c == '"' || c == '`':
			sc.skipQuoted(c)
		case c == '$' && sc.dollarTag() != "":
			sc.skipDollarQuoted()
		case isWordStart(c):
			start := sc.pos
			for sc.pos < len(sc.src) && isWordPart(sc.src[sc.pos]) {
				sc.pos++
			}
			words = append(words, strings.ToUpper(sc.src[start:sc.pos]))
			ends = append(ends, sc.pos)
		default:
			sc.pos++
		}
	}
	return words, ends
}

// split removes comments and splits sql on top-level semicolons. Empty
// statements are dropped. Quoted text is kept verbatim. The body of a MySQL
// executable comment is kept as code.
func split(sql string, backslash bool) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	sc := scanner{src: sql, backslash: backslash}
	inExec := false
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		switch {
		case inExec && c == '*' && sc.peek(1) == '/':
			sc.pos += 2
			inExec = false
			cur.WriteByte(' ')
		case !inExec && sc.execCommentStart():
			inExec = true
			cur.WriteByte(' ')
		case c == '-' && sc.peek(1) == '-':
			for sc.pos < len(sc.src) && sc.src[sc.pos] != '\n' {
				sc.pos++
			}
			cur.WriteByte(' ')
		case c == '/' && sc.peek(1) == '*':
			sc.skipBlockComment()
			cur.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			start := sc.pos
			sc.skipQuoted(c)
			cur.WriteString(sc.src[start:sc.pos])
		case c == '$' && sc.dollarTag() != "":
			start := sc.pos
			sc.skipDollarQuoted()
			cur.WriteString(sc.src[start:sc.pos])
		case c == ';':
			sc.pos++
			flush()
		default:
			cur.WriteByte(c)
			sc.pos++
		}
	}
	flush()
	return stmts
}

type scanner struct {
	src       string
	pos       int
	backslash bool // backslash escapes a quote inside '...'
}

func (s *scanner) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

// skipQuoted advances past a quoted run. A doubled quote character inside
// the run is an escaped quote. Unterminated runs end at EOF.
func (s *scanner) skipQuoted(q byte) {
	s.pos++
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if s.backslash && c == '\\' && q == '\'' {
			s.pos += 2
			continue
		}
		if c == q {
			if s.peek(1) == q {
				s.pos += 2
				continue
			}
			s.pos++
			return
		}
		s.pos++
	}
}

// execCommentStart consumes the opener of a MySQL executable comment,
// /*!, /*!50100 or MariaDB's /*M!, and reports whether one was found.
func (s *scanner) execCommentStart() bool {
	if s.src[s.pos] != '/' || s.peek(1) != '*' {
		return false
	}
	n := 2
	if s.peek(n) == 'M' {
		n++
	}
	if s.peek(n) != '!' {
		return false
	}
	s.pos += n + 1
	for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	return true
}

// skipBlockComment advances past a /* */ comment, allowing nesting as
// Postgres does. Unterminated comments end at EOF.
func (s *scanner) skipBlockComment() {
	depth := 0
	for s.pos < len(s.src) {
		switch {
		case s.src[s.pos] == '/' && s.peek(1) == '*':
			depth++
			s.pos += 2
		case s.src[s.pos] == '*' && s.peek(1) == '/':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

// dollarTag returns the $tag$ opener at the current position, or "".
func (s *scanner) dollarTag() string {
	if s.pos > 0 && isWordPart(s.src[s.pos-1]) {
		return ""
	}
	end := s.pos + 1
	for end < len(s.src) && isWordPart(s.src[end]) && !unicode.IsDigit(rune(s.src[s.pos+1])) {
		end++
	}
	if end < len(s.src) && s.src[end] == '$' {
		return s.src[s.pos : end+1]
	}
	return ""
}

func (s *scanner) skipDollarQuoted() {
	tag := s.dollarTag()
	s.pos += len(tag)
	idx := strings.Index(s.src[s.pos:], tag)
	if idx < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += idx + len(tag)
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// ReturnsRows reports whether sql should be submitted as a query rather
// than an exec: reads, statements the scanner does not know, and writes
// carrying a RETURNING or OUTPUT clause.
func ReturnsRows(sql string) bool {
	r, err := Classify(sql)
	if err != nil {
		return false
	}
	if r.Classification != Write {
		return true
	}
	for _, st := range r.Statements {
		for _, w := range Words(st.Text) {
			if w == "RETURNING" || w == "OUTPUT" {
				return true
			}
		}
	}
	return false
}
