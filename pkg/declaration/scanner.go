package declaration

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a lexical token of a declaration file
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokNumber
	TokString
	TokTemplate
	TokComment
	TokPunct
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "end of file"
	case TokIdent:
		return "identifier"
	case TokNumber:
		return "number"
	case TokString:
		return "string"
	case TokTemplate:
		return "template literal"
	case TokComment:
		return "comment"
	case TokPunct:
		return "punctuation"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is a lexical token. Start and End are byte offsets into the source.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
}

// Is reports whether t is the punctuation or identifier text
func (t Token) Is(text string) bool {
	return (t.Kind == TokPunct || t.Kind == TokIdent) && t.Text == text
}

var multiCharPunct = []string{"...", "=>"}

// Scan tokenises src. Whitespace is dropped; comments are kept as tokens so
// callers can see them but the parser skips them.
func Scan(filename string, src []byte) ([]Token, error) {
	s := &scanner{filename: filename, src: src}
	var toks []Token
	for {
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks, nil
		}
	}
}

type scanner struct {
	filename string
	src      []byte
	pos      int
}

func (s *scanner) errorAt(offset int, format string, args ...any) error {
	line, col := position(s.src, offset)
	return &SyntaxError{Filename: s.filename, Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

func (s *scanner) next() (Token, error) {
	s.skipSpace()
	start := s.pos
	if s.pos >= len(s.src) {
		return Token{Kind: TokEOF, Start: start, End: start}, nil
	}

	c := s.src[s.pos]
	switch {
	case c == '/' && s.peek(1) == '/':
		for s.pos < len(s.src) && s.src[s.pos] != '\n' {
			s.pos++
		}
		return s.token(TokComment, start), nil
	case c == '/' && s.peek(1) == '*':
		s.pos += 2
		for {
			if s.pos+1 >= len(s.src) {
				return Token{}, s.errorAt(start, "unterminated block comment")
			}
			if s.src[s.pos] == '*' && s.src[s.pos+1] == '/' {
				s.pos += 2
				return s.token(TokComment, start), nil
			}
			s.pos++
		}
	case c == '\'' || c == '"':
		return s.scanString(c)
	case c == '`':
		return s.scanTemplate()
	case c >= '0' && c <= '9':
		for s.pos < len(s.src) && (isIdentByte(s.src[s.pos]) || s.src[s.pos] == '.') {
			s.pos++
		}
		return s.token(TokNumber, start), nil
	}

	if r, size := utf8.DecodeRune(s.src[s.pos:]); isIdentStart(r) {
		s.pos += size
		for s.pos < len(s.src) {
			r, size = utf8.DecodeRune(s.src[s.pos:])
			if !isIdentPart(r) {
				break
			}
			s.pos += size
		}
		return s.token(TokIdent, start), nil
	}

	for _, p := range multiCharPunct {
		if s.pos+len(p) <= len(s.src) && string(s.src[s.pos:s.pos+len(p)]) == p {
			s.pos += len(p)
			return s.token(TokPunct, start), nil
		}
	}

	_, size := utf8.DecodeRune(s.src[s.pos:])
	s.pos += size
	return s.token(TokPunct, start), nil
}

func (s *scanner) token(kind TokenKind, start int) Token {
	return Token{Kind: kind, Text: string(s.src[start:s.pos]), Start: start, End: s.pos}
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		r, size := utf8.DecodeRune(s.src[s.pos:])
		if r == '\uFEFF' || unicode.IsSpace(r) {
			s.pos += size
			continue
		}
		return
	}
}

func (s *scanner) scanString(quote byte) (Token, error) {
	start := s.pos
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
		case '\n':
			return Token{}, s.errorAt(start, "unterminated string literal")
		case quote:
			s.pos++
			return s.token(TokString, start), nil
		default:
			s.pos++
		}
	}
	return Token{}, s.errorAt(start, "unterminated string literal")
}

// scanTemplate consumes a template literal type, including ${...}
// placeholders. Nested templates inside placeholders are not supported.
func (s *scanner) scanTemplate() (Token, error) {
	start := s.pos
	s.pos++
	depth := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\':
			s.pos += 2
			continue
		case depth == 0 && c == '`':
			s.pos++
			return s.token(TokTemplate, start), nil
		case c == '$' && s.peek(1) == '{':
			depth++
			s.pos += 2
			continue
		case depth > 0 && c == '{':
			depth++
		case depth > 0 && c == '}':
			depth--
		}
		s.pos++
	}
	return Token{}, s.errorAt(start, "unterminated template literal")
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200C' || r == '\u200D'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// position converts a byte offset to a 1-based line and column
func position(src []byte, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
