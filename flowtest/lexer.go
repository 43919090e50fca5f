package flowtest

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenType identifies a lexical token of Flow source.
type TokenType int

const (
	EOF TokenType = iota
	IDENT
	INT
	FLOAT
	STRING

	// keywords
	FUNC
	LET
	MUT
	RETURN
	IF
	ELSE
	WHILE
	TRUE
	FALSE

	// punctuation
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	COMMA
	COLON
	SEMI
	ARROW

	// operators
	ASSIGN
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	BANG
	EQ
	NEQ
	LT
	LTE
	GT
	GTE
	AND
	OR
)

var keywords = map[string]TokenType{
	"func":   FUNC,
	"let":    LET,
	"mut":    MUT,
	"return": RETURN,
	"if":     IF,
	"else":   ELSE,
	"while":  WHILE,
	"true":   TRUE,
	"false":  FALSE,
}

var tokenNames = map[TokenType]string{
	EOF: "end of input", IDENT: "identifier", INT: "integer", FLOAT: "float", STRING: "string",
	LPAREN: "'('", RPAREN: "')'", LBRACE: "'{'", RBRACE: "'}'", COMMA: "','", COLON: "':'",
	SEMI: "';'", ARROW: "'->'", ASSIGN: "'='",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	for k, v := range keywords {
		if v == t {
			return "'" + k + "'"
		}
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexeme with its position.
type Token struct {
	Lit  any
	Text string
	Type TokenType
	Line int
	Col  int
}

// CompileError reports a lexing, parsing or resolution failure.
type CompileError struct {
	Msg  string
	Line int
	Col  int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Lexer turns Flow source into tokens.
type Lexer struct {
	src       string
	start     int
	cur       int
	line      int
	col       int
	startLine int
	startCol  int
}

func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.src[l.cur]
}

func (l *Lexer) peekN(n int) byte {
	if l.cur+n >= len(l.src) {
		return 0
	}
	return l.src[l.cur+n]
}

func (l *Lexer) advance() byte {
	c := l.src[l.cur]
	l.cur++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *Lexer) err(msg string, args ...any) error {
	return &CompileError{Msg: fmt.Sprintf(msg, args...), Line: l.startLine, Col: l.startCol}
}

func (l *Lexer) token(tt TokenType, lit any) Token {
	return Token{
		Type: tt,
		Text: l.src[l.start:l.cur],
		Lit:  lit,
		Line: l.startLine,
		Col:  l.startCol,
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isDigit(b)
}

// skipTrivia skips whitespace and both comment forms.
func (l *Lexer) skipTrivia() error {
	for !l.isAtEnd() {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekN(1) == '/':
			for !l.isAtEnd() && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekN(1) == '*':
			l.start, l.startLine, l.startCol = l.cur, l.line, l.col
			l.advance()
			l.advance()
			for {
				if l.isAtEnd() {
					return l.err("unterminated block comment")
				}
				if l.peek() == '*' && l.peekN(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}
	l.start, l.startLine, l.startCol = l.cur, l.line, l.col
	if l.isAtEnd() {
		return l.token(EOF, nil), nil
	}

	c := l.advance()
	switch {
	case isAlpha(c):
		for isAlphaNum(l.peek()) {
			l.advance()
		}
		word := l.src[l.start:l.cur]
		if kw, ok := keywords[word]; ok {
			return l.token(kw, nil), nil
		}
		return l.token(IDENT, word), nil
	case isDigit(c):
		return l.scanNumber()
	case c == '"':
		s, err := l.scanString()
		if err != nil {
			return Token{}, err
		}
		return l.token(STRING, s), nil
	}

	two := func(next byte, yes, no TokenType) Token {
		if l.peek() == next {
			l.advance()
			return l.token(yes, nil)
		}
		return l.token(no, nil)
	}

	switch c {
	case '(':
		return l.token(LPAREN, nil), nil
	case ')':
		return l.token(RPAREN, nil), nil
	case '{':
		return l.token(LBRACE, nil), nil
	case '}':
		return l.token(RBRACE, nil), nil
	case ',':
		return l.token(COMMA, nil), nil
	case ':':
		return l.token(COLON, nil), nil
	case ';':
		return l.token(SEMI, nil), nil
	case '+':
		return l.token(PLUS, nil), nil
	case '-':
		return two('>', ARROW, MINUS), nil
	case '*':
		return l.token(STAR, nil), nil
	case '/':
		return l.token(SLASH, nil), nil
	case '%':
		return l.token(PERCENT, nil), nil
	case '=':
		return two('=', EQ, ASSIGN), nil
	case '!':
		return two('=', NEQ, BANG), nil
	case '<':
		return two('=', LTE, LT), nil
	case '>':
		return two('=', GTE, GT), nil
	case '&':
		if l.peek() == '&' {
			l.advance()
			return l.token(AND, nil), nil
		}
	case '|':
		if l.peek() == '|' {
			l.advance()
			return l.token(OR, nil), nil
		}
	}
	return Token{}, l.err("unexpected character %q", c)
}

func (l *Lexer) scanNumber() (Token, error) {
	for isDigit(l.peek()) {
		l.advance()
	}
	isFloat := false
	if l.peek() == '.' && isDigit(l.peekN(1)) {
		isFloat = true
		l.advance()
		for isDigit(l.peek()) {
			l.advance()
		}
	}
	text := l.src[l.start:l.cur]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, l.err("invalid float literal %s", text)
		}
		return l.token(FLOAT, f), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, l.err("integer literal %s out of range", text)
	}
	return l.token(INT, n), nil
}

func (l *Lexer) scanString() (string, error) {
	var b strings.Builder
	for {
		if l.isAtEnd() || l.peek() == '\n' {
			return "", l.err("unterminated string literal")
		}
		c := l.advance()
		if c == '"' {
			return b.String(), nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if l.isAtEnd() {
			return "", l.err("unterminated string literal")
		}
		switch e := l.advance(); e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\', '"':
			b.WriteByte(e)
		default:
			return "", l.err("unknown escape \\%c", e)
		}
	}
}

// Tokenize lexes the whole source.
func Tokenize(src string) ([]Token, error) {
	l := NewLexer(src)
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks, nil
		}
	}
}
