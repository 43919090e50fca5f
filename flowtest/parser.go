package flowtest

import (
	"fmt"

	flowbridge "github.com/wippyai/flow-bridge"
)

type expr interface{ pos() (int, int) }

type stmt any

type at struct{ line, col int }

func (a at) pos() (int, int) { return a.line, a.col }

type (
	literalExpr struct {
		at
		value flowbridge.WireValue
	}
	identExpr struct {
		at
		name string
	}
	unaryExpr struct {
		at
		x  expr
		op TokenType
	}
	binaryExpr struct {
		at
		left, right expr
		op          TokenType
	}
	callExpr struct {
		at
		name string
		args []expr
	}
)

type (
	letStmt struct {
		value   expr
		name    string
		typ     string
		mutable bool
		at
	}
	assignStmt struct {
		value expr
		name  string
		at
	}
	returnStmt struct {
		value expr
		at
	}
	ifStmt struct {
		cond expr
		then []stmt
		els  []stmt
	}
	whileStmt struct {
		cond expr
		body []stmt
	}
	exprStmt struct {
		x expr
	}
)

type paramDecl struct {
	Name string
	Type string
}

type funcDecl struct {
	name   string
	ret    string
	params []paramDecl
	body   []stmt
	line   int
	col    int
}

type parser struct {
	toks []Token
	pos  int
}

func parse(src string) ([]*funcDecl, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var funcs []*funcDecl
	for !p.check(EOF) {
		fn, err := p.funcDecl()
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, fn)
	}
	return funcs, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) check(tt TokenType) bool { return p.peek().Type == tt }

func (p *parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.next()
		return true
	}
	return false
}

func (p *parser) errAt(tok Token, msg string, args ...any) error {
	return &CompileError{Msg: fmt.Sprintf(msg, args...), Line: tok.Line, Col: tok.Col}
}

func (p *parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, p.errAt(tok, "expected %s, found %s", tt, describe(tok))
	}
	return p.next(), nil
}

func describe(tok Token) string {
	if tok.Type == EOF {
		return tok.Type.String()
	}
	return fmt.Sprintf("%q", tok.Text)
}

func (p *parser) typeName() (string, error) {
	tok, err := p.expect(IDENT)
	if err != nil {
		return "", err
	}
	name := tok.Lit.(string)
	if _, ok := flowbridge.ParseValueType(name); !ok {
		return "", p.errAt(tok, "unknown type %q", name)
	}
	return name, nil
}

func (p *parser) funcDecl() (*funcDecl, error) {
	kw, err := p.expect(FUNC)
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	fn := &funcDecl{name: nameTok.Lit.(string), ret: "void", line: kw.Line, col: kw.Col}

	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	if !p.check(RPAREN) {
		for {
			pn, err := p.expect(IDENT)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(COLON); err != nil {
				return nil, err
			}
			pt, err := p.typeName()
			if err != nil {
				return nil, err
			}
			if pt == "void" {
				return nil, p.errAt(pn, "parameter %q cannot be void", pn.Lit)
			}
			fn.params = append(fn.params, paramDecl{Name: pn.Lit.(string), Type: pt})
			if !p.match(COMMA) {
				break
			}
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	if p.match(ARROW) {
		if fn.ret, err = p.typeName(); err != nil {
			return nil, err
		}
	}
	if fn.body, err = p.block(); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *parser) block() ([]stmt, error) {
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	var body []stmt
	for !p.check(RBRACE) {
		if p.check(EOF) {
			return nil, p.errAt(p.peek(), "expected '}', found end of input")
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	p.next()
	return body, nil
}

func (p *parser) statement() (stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case LET:
		p.next()
		s := &letStmt{at: at{tok.Line, tok.Col}}
		s.mutable = p.match(MUT)
		name, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		s.name = name.Lit.(string)
		if p.match(COLON) {
			if s.typ, err = p.typeName(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(ASSIGN); err != nil {
			return nil, err
		}
		if s.value, err = p.expression(); err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMI); err != nil {
			return nil, err
		}
		return s, nil

	case RETURN:
		p.next()
		s := &returnStmt{at: at{tok.Line, tok.Col}}
		if !p.check(SEMI) {
			v, err := p.expression()
			if err != nil {
				return nil, err
			}
			s.value = v
		}
		if _, err := p.expect(SEMI); err != nil {
			return nil, err
		}
		return s, nil

	case IF:
		p.next()
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		s := &ifStmt{cond: cond}
		if s.then, err = p.block(); err != nil {
			return nil, err
		}
		if p.match(ELSE) {
			if p.check(IF) {
				nested, err := p.statement()
				if err != nil {
					return nil, err
				}
				s.els = []stmt{nested}
			} else if s.els, err = p.block(); err != nil {
				return nil, err
			}
		}
		return s, nil

	case WHILE:
		p.next()
		cond, err := p.condition()
		if err != nil {
			return nil, err
		}
		s := &whileStmt{cond: cond}
		if s.body, err = p.block(); err != nil {
			return nil, err
		}
		return s, nil

	case IDENT:
		if p.toks[p.pos+1].Type == ASSIGN {
			p.next()
			p.next()
			v, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(SEMI); err != nil {
				return nil, err
			}
			return &assignStmt{at: at{tok.Line, tok.Col}, name: tok.Lit.(string), value: v}, nil
		}
	}

	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMI); err != nil {
		return nil, err
	}
	return &exprStmt{x: x}, nil
}

func (p *parser) condition() (expr, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return cond, nil
}

// binary precedence levels, lowest first
var precedence = [][]TokenType{
	{OR},
	{AND},
	{EQ, NEQ},
	{LT, LTE, GT, GTE},
	{PLUS, MINUS},
	{STAR, SLASH, PERCENT},
}

func (p *parser) expression() (expr, error) {
	return p.binary(0)
}

func (p *parser) binary(level int) (expr, error) {
	if level == len(precedence) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		found := false
		for _, op := range precedence[level] {
			if tok.Type == op {
				found = true
				break
			}
		}
		if !found {
			return left, nil
		}
		p.next()
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{at: at{tok.Line, tok.Col}, left: left, right: right, op: tok.Type}
	}
}

func (p *parser) unary() (expr, error) {
	tok := p.peek()
	if tok.Type == MINUS || tok.Type == BANG {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{at: at{tok.Line, tok.Col}, x: x, op: tok.Type}, nil
	}
	return p.primary()
}

func (p *parser) primary() (expr, error) {
	tok := p.next()
	pos := at{tok.Line, tok.Col}
	switch tok.Type {
	case INT:
		return &literalExpr{at: pos, value: flowbridge.Int(tok.Lit.(int64))}, nil
	case FLOAT:
		return &literalExpr{at: pos, value: flowbridge.Float(tok.Lit.(float64))}, nil
	case STRING:
		return &literalExpr{at: pos, value: flowbridge.String(tok.Lit.(string))}, nil
	case TRUE:
		return &literalExpr{at: pos, value: flowbridge.Bool(true)}, nil
	case FALSE:
		return &literalExpr{at: pos, value: flowbridge.Bool(false)}, nil
	case LPAREN:
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return x, nil
	case IDENT:
		name := tok.Lit.(string)
		if !p.match(LPAREN) {
			return &identExpr{at: pos, name: name}, nil
		}
		call := &callExpr{at: pos, name: name}
		if !p.check(RPAREN) {
			for {
				arg, err := p.expression()
				if err != nil {
					return nil, err
				}
				call.args = append(call.args, arg)
				if !p.match(COMMA) {
					break
				}
			}
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return call, nil
	}
	return nil, p.errAt(tok, "unexpected %s", describe(tok))
}
