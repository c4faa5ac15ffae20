package signal

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp     // < <= > >= == != + - * /
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// tokenize 把一行表达式切为 token；只接受白名单字符集。
func tokenize(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case c == ',':
			out = append(out, token{tokComma, ",", i})
			i++
		case strings.ContainsRune("<>=!", rune(c)):
			start := i
			i++
			if i < len(src) && src[i] == '=' {
				i++
			}
			op := src[start:i]
			if op == "=" || op == "!" {
				return nil, compileErrf("位置 %d: 非法运算符 %q", start, op)
			}
			out = append(out, token{tokOp, op, start})
		case strings.ContainsRune("+-*/", rune(c)):
			out = append(out, token{tokOp, string(c), i})
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			out = append(out, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(rune(c)) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			word := src[start:i]
			switch strings.ToLower(word) {
			case "and":
				out = append(out, token{tokAnd, word, start})
			case "or":
				out = append(out, token{tokOr, word, start})
			case "not":
				out = append(out, token{tokNot, word, start})
			default:
				out = append(out, token{tokIdent, word, start})
			}
		default:
			return nil, compileErrf("位置 %d: 非法字符 %q", i, string(c))
		}
	}
	out = append(out, token{tokEOF, "", len(src)})
	return out, nil
}
