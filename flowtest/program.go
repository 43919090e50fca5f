package flowtest

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	flowbridge "github.com/wippyai/flow-bridge"
)

// DefaultStepLimit bounds the statements and expressions one call may evaluate.
const DefaultStepLimit = 1_000_000

const maxCallDepth = 256

// Param is a declared function parameter.
type Param struct {
	Name string
	Type string
}

// Signature describes a compiled function.
type Signature struct {
	Name   string
	Return string
	Params []Param
}

// Program is a compiled Flow module.
type Program struct {
	funcs map[string]*funcDecl
	names []string
}

// Compile parses and resolves Flow source. Source with no functions, or
// only comments, compiles to an empty program.
func Compile(src string) (*Program, error) {
	decls, err := parse(src)
	if err != nil {
		return nil, err
	}
	p := &Program{funcs: make(map[string]*funcDecl, len(decls))}
	for _, fn := range decls {
		if _, dup := p.funcs[fn.name]; dup {
			return nil, &CompileError{Msg: fmt.Sprintf("function %q redefined", fn.name), Line: fn.line, Col: fn.col}
		}
		p.funcs[fn.name] = fn
		p.names = append(p.names, fn.name)
	}
	sort.Strings(p.names)
	for _, fn := range decls {
		if err := p.resolve(fn.body); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resolve checks that every called function exists with the right arity.
func (p *Program) resolve(body []stmt) error {
	var walkExpr func(e expr) error
	walkExpr = func(e expr) error {
		switch x := e.(type) {
		case *unaryExpr:
			return walkExpr(x.x)
		case *binaryExpr:
			if err := walkExpr(x.left); err != nil {
				return err
			}
			return walkExpr(x.right)
		case *callExpr:
			callee, ok := p.funcs[x.name]
			if !ok {
				return &CompileError{Msg: fmt.Sprintf("undefined function %q", x.name), Line: x.line, Col: x.col}
			}
			if len(callee.params) != len(x.args) {
				return &CompileError{
					Msg:  fmt.Sprintf("function %q expects %d arguments, got %d", x.name, len(callee.params), len(x.args)),
					Line: x.line,
					Col:  x.col,
				}
			}
			for _, a := range x.args {
				if err := walkExpr(a); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, s := range body {
		var err error
		switch st := s.(type) {
		case *letStmt:
			err = walkExpr(st.value)
		case *assignStmt:
			err = walkExpr(st.value)
		case *returnStmt:
			if st.value != nil {
				err = walkExpr(st.value)
			}
		case *exprStmt:
			err = walkExpr(st.x)
		case *ifStmt:
			if err = walkExpr(st.cond); err == nil {
				if err = p.resolve(st.then); err == nil {
					err = p.resolve(st.els)
				}
			}
		case *whileStmt:
			if err = walkExpr(st.cond); err == nil {
				err = p.resolve(st.body)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Names returns function names in sorted order.
func (p *Program) Names() []string {
	return p.names
}

// Signature returns the signature of a function.
func (p *Program) Signature(name string) (Signature, bool) {
	fn, ok := p.funcs[name]
	if !ok {
		return Signature{}, false
	}
	sig := Signature{Name: fn.name, Return: fn.ret, Params: make([]Param, len(fn.params))}
	for i, pd := range fn.params {
		sig.Params[i] = Param(pd)
	}
	return sig, true
}

// RuntimeError is a failure during execution.
type RuntimeError struct {
	Msg string
}

func (e *RuntimeError) Error() string { return e.Msg }

// NotFoundError is returned by Call for an unknown function.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "Function not found: " + e.Name }

// Call executes a function. stepLimit <= 0 uses DefaultStepLimit.
func (p *Program) Call(name string, args []flowbridge.WireValue, stepLimit int) (flowbridge.WireValue, error) {
	fn, ok := p.funcs[name]
	if !ok {
		return flowbridge.Void(), &NotFoundError{Name: name}
	}
	if stepLimit <= 0 {
		stepLimit = DefaultStepLimit
	}
	in := &interp{prog: p, steps: stepLimit}
	return in.call(fn, args)
}

type variable struct {
	value   flowbridge.WireValue
	mutable bool
}

type scope struct {
	vars   map[string]*variable
	parent *scope
}

func (s *scope) lookup(name string) (*variable, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

type interp struct {
	prog  *Program
	steps int
	depth int
}

// returnSignal unwinds a function body on return.
type returnSignal struct {
	value flowbridge.WireValue
}

func (in *interp) fail(format string, args ...any) error {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...)}
}

func (in *interp) tick() error {
	in.steps--
	if in.steps < 0 {
		return in.fail("step limit exceeded")
	}
	return nil
}

func (in *interp) call(fn *funcDecl, args []flowbridge.WireValue) (flowbridge.WireValue, error) {
	if len(args) != len(fn.params) {
		return flowbridge.Void(), in.fail("function '%s' expects %d arguments, got %d", fn.name, len(fn.params), len(args))
	}
	in.depth++
	defer func() { in.depth-- }()
	if in.depth > maxCallDepth {
		return flowbridge.Void(), in.fail("maximum call depth exceeded")
	}

	sc := &scope{vars: make(map[string]*variable, len(fn.params))}
	for i, pd := range fn.params {
		v, err := coerce(args[i], pd.Type)
		if err != nil {
			return flowbridge.Void(), in.fail("argument '%s' of '%s': %v", pd.Name, fn.name, err)
		}
		sc.vars[pd.Name] = &variable{value: v}
	}

	ret, err := in.exec(fn.body, sc)
	if err != nil {
		return flowbridge.Void(), err
	}
	if ret == nil {
		if fn.ret != "void" {
			return flowbridge.Void(), in.fail("function '%s' ended without returning %s", fn.name, fn.ret)
		}
		return flowbridge.Void(), nil
	}
	if fn.ret == "void" {
		return flowbridge.Void(), nil
	}
	v, err := coerce(ret.value, fn.ret)
	if err != nil {
		return flowbridge.Void(), in.fail("return value of '%s': %v", fn.name, err)
	}
	return v, nil
}

func (in *interp) exec(body []stmt, sc *scope) (*returnSignal, error) {
	for _, s := range body {
		if err := in.tick(); err != nil {
			return nil, err
		}
		switch st := s.(type) {
		case *letStmt:
			v, err := in.eval(st.value, sc)
			if err != nil {
				return nil, err
			}
			if st.typ != "" {
				if v, err = coerce(v, st.typ); err != nil {
					return nil, in.fail("let %s: %v", st.name, err)
				}
			}
			sc.vars[st.name] = &variable{value: v, mutable: st.mutable}

		case *assignStmt:
			target, ok := sc.lookup(st.name)
			if !ok {
				return nil, in.fail("undefined variable '%s'", st.name)
			}
			if !target.mutable {
				return nil, in.fail("cannot assign to immutable variable '%s'", st.name)
			}
			v, err := in.eval(st.value, sc)
			if err != nil {
				return nil, err
			}
			if v, err = coerce(v, target.value.Type.String()); err != nil {
				return nil, in.fail("assign %s: %v", st.name, err)
			}
			target.value = v

		case *returnStmt:
			if st.value == nil {
				return &returnSignal{value: flowbridge.Void()}, nil
			}
			v, err := in.eval(st.value, sc)
			if err != nil {
				return nil, err
			}
			return &returnSignal{value: v}, nil

		case *exprStmt:
			if _, err := in.eval(st.x, sc); err != nil {
				return nil, err
			}

		case *ifStmt:
			cond, err := in.truth(st.cond, sc)
			if err != nil {
				return nil, err
			}
			branch := st.els
			if cond {
				branch = st.then
			}
			ret, err := in.exec(branch, &scope{vars: map[string]*variable{}, parent: sc})
			if err != nil || ret != nil {
				return ret, err
			}

		case *whileStmt:
			for {
				cond, err := in.truth(st.cond, sc)
				if err != nil {
					return nil, err
				}
				if !cond {
					break
				}
				ret, err := in.exec(st.body, &scope{vars: map[string]*variable{}, parent: sc})
				if err != nil || ret != nil {
					return ret, err
				}
			}
		}
	}
	return nil, nil
}

func (in *interp) truth(e expr, sc *scope) (bool, error) {
	v, err := in.eval(e, sc)
	if err != nil {
		return false, err
	}
	if v.Type != flowbridge.TypeBool {
		return false, in.fail("condition must be bool, got %s", v.Type)
	}
	return v.Bool, nil
}

func (in *interp) eval(e expr, sc *scope) (flowbridge.WireValue, error) {
	if err := in.tick(); err != nil {
		return flowbridge.Void(), err
	}
	switch x := e.(type) {
	case *literalExpr:
		return x.value, nil

	case *identExpr:
		v, ok := sc.lookup(x.name)
		if !ok {
			return flowbridge.Void(), in.fail("undefined variable '%s'", x.name)
		}
		return v.value, nil

	case *unaryExpr:
		v, err := in.eval(x.x, sc)
		if err != nil {
			return flowbridge.Void(), err
		}
		switch {
		case x.op == MINUS && v.Type == flowbridge.TypeInt:
			return flowbridge.Int(-v.Int), nil
		case x.op == MINUS && v.Type == flowbridge.TypeFloat:
			return flowbridge.Float(-v.Float), nil
		case x.op == BANG && v.Type == flowbridge.TypeBool:
			return flowbridge.Bool(!v.Bool), nil
		}
		return flowbridge.Void(), in.fail("invalid operand %s for unary operator", v.Type)

	case *binaryExpr:
		if x.op == AND || x.op == OR {
			left, err := in.truth(x.left, sc)
			if err != nil {
				return flowbridge.Void(), err
			}
			if (x.op == AND && !left) || (x.op == OR && left) {
				return flowbridge.Bool(left), nil
			}
			right, err := in.truth(x.right, sc)
			if err != nil {
				return flowbridge.Void(), err
			}
			return flowbridge.Bool(right), nil
		}
		left, err := in.eval(x.left, sc)
		if err != nil {
			return flowbridge.Void(), err
		}
		right, err := in.eval(x.right, sc)
		if err != nil {
			return flowbridge.Void(), err
		}
		return in.binary(x.op, left, right)

	case *callExpr:
		args := make([]flowbridge.WireValue, len(x.args))
		for i, a := range x.args {
			v, err := in.eval(a, sc)
			if err != nil {
				return flowbridge.Void(), err
			}
			args[i] = v
		}
		return in.call(in.prog.funcs[x.name], args)
	}
	return flowbridge.Void(), in.fail("unknown expression %T", e)
}

func (in *interp) binary(op TokenType, a, b flowbridge.WireValue) (flowbridge.WireValue, error) {
	if op == PLUS && (a.Type == flowbridge.TypeString || b.Type == flowbridge.TypeString) {
		return flowbridge.String(display(a) + display(b)), nil
	}

	if a.Type == flowbridge.TypeInt && b.Type == flowbridge.TypeInt {
		x, y := a.Int, b.Int
		switch op {
		case PLUS:
			return flowbridge.Int(x + y), nil
		case MINUS:
			return flowbridge.Int(x - y), nil
		case STAR:
			return flowbridge.Int(x * y), nil
		case SLASH, PERCENT:
			if y == 0 {
				return flowbridge.Void(), in.fail("division by zero")
			}
			if op == SLASH {
				return flowbridge.Int(x / y), nil
			}
			return flowbridge.Int(x % y), nil
		}
		return compare(op, float64(x), float64(y), x == y)
	}

	if isNumber(a) && isNumber(b) {
		x, y := toFloat(a), toFloat(b)
		switch op {
		case PLUS:
			return flowbridge.Float(x + y), nil
		case MINUS:
			return flowbridge.Float(x - y), nil
		case STAR:
			return flowbridge.Float(x * y), nil
		case SLASH:
			return flowbridge.Float(x / y), nil
		case PERCENT:
			return flowbridge.Float(math.Mod(x, y)), nil
		}
		return compare(op, x, y, x == y)
	}

	if a.Type == b.Type && (op == EQ || op == NEQ) {
		eq := a == b
		if op == NEQ {
			eq = !eq
		}
		return flowbridge.Bool(eq), nil
	}
	if a.Type == flowbridge.TypeString && b.Type == flowbridge.TypeString {
		switch op {
		case LT:
			return flowbridge.Bool(a.Text < b.Text), nil
		case LTE:
			return flowbridge.Bool(a.Text <= b.Text), nil
		case GT:
			return flowbridge.Bool(a.Text > b.Text), nil
		case GTE:
			return flowbridge.Bool(a.Text >= b.Text), nil
		}
	}
	return flowbridge.Void(), in.fail("invalid operands %s and %s", a.Type, b.Type)
}

func compare(op TokenType, x, y float64, eq bool) (flowbridge.WireValue, error) {
	switch op {
	case EQ:
		return flowbridge.Bool(eq), nil
	case NEQ:
		return flowbridge.Bool(!eq), nil
	case LT:
		return flowbridge.Bool(x < y), nil
	case LTE:
		return flowbridge.Bool(x <= y), nil
	case GT:
		return flowbridge.Bool(x > y), nil
	case GTE:
		return flowbridge.Bool(x >= y), nil
	}
	return flowbridge.Void(), &RuntimeError{Msg: fmt.Sprintf("invalid operator %s", op)}
}

func isNumber(v flowbridge.WireValue) bool {
	return v.Type == flowbridge.TypeInt || v.Type == flowbridge.TypeFloat
}

func toFloat(v flowbridge.WireValue) float64 {
	if v.Type == flowbridge.TypeInt {
		return float64(v.Int)
	}
	return v.Float
}

func display(v flowbridge.WireValue) string {
	switch v.Type {
	case flowbridge.TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case flowbridge.TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case flowbridge.TypeString:
		return v.Text
	case flowbridge.TypeBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "void"
	}
}

// coerce checks v against a declared type, promoting int to float.
func coerce(v flowbridge.WireValue, typ string) (flowbridge.WireValue, error) {
	want, ok := flowbridge.ParseValueType(typ)
	if !ok {
		return v, fmt.Errorf("unknown type %s", typ)
	}
	if v.Type == want {
		return v, nil
	}
	if want == flowbridge.TypeFloat && v.Type == flowbridge.TypeInt {
		return flowbridge.Float(float64(v.Int)), nil
	}
	return v, fmt.Errorf("expected %s, got %s", want, v.Type)
}
