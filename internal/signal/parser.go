package signal

import "strconv"

// 表达式 AST。只承载白名单文法：数字、列引用、函数调用、
// 比较、算术与布尔组合，不存在任何可执行代码路径。

type node interface{}

type numberNode struct {
	value float64
}

type identNode struct {
	name string
}

type callNode struct {
	name string
	args []node
}

type unaryNode struct {
	op string // "-" | "not"
	x  node
}

type binaryNode struct {
	op   string // 比较/算术/and/or
	l, r node
}

type parser struct {
	toks []token
	pos  int
}

func parseExpr(src string) (node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, compileErrf("位置 %d: 多余的 %q", p.peek().pos, p.peek().text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) orExpr() (node, error) {
	l, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		r, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *parser) andExpr() (node, error) {
	l, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		r, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) notExpr() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", x: x}, nil
	}
	return p.cmpExpr()
}

func (p *parser) cmpExpr() (node, error) {
	l, err := p.addExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && isCmpOp(t.text) {
		p.next()
		r, err := p.addExpr()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: t.text, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) addExpr() (node, error) {
	l, err := p.mulExpr()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return l, nil
		}
		p.next()
		r, err := p.mulExpr()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) mulExpr() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return l, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) unary() (node, error) {
	if t := p.peek(); t.kind == tokOp && t.text == "-" {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "-", x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, compileErrf("位置 %d: 非法数字 %q", t.pos, t.text)
		}
		return &numberNode{value: v}, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			return &identNode{name: t.text}, nil
		}
		p.next() // consume '('
		var args []node
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.orExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind == tokComma {
					p.next()
					continue
				}
				break
			}
		}
		if p.peek().kind != tokRParen {
			return nil, compileErrf("位置 %d: 缺少右括号", p.peek().pos)
		}
		p.next()
		return &callNode{name: t.text, args: args}, nil
	case tokLParen:
		n, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, compileErrf("位置 %d: 缺少右括号", p.peek().pos)
		}
		p.next()
		return n, nil
	default:
		return nil, compileErrf("位置 %d: 不期望的 %q", t.pos, t.text)
	}
}

func isCmpOp(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}
