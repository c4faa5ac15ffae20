package signal

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"aegis/internal/market"
	"aegis/internal/template"
)

// Pipeline 是一份模板绑定一组参数后的可执行形态：
// 指标赋值按声明顺序求值，entry/exit 各产出一条布尔列。
type Pipeline struct {
	TemplateID string
	Rendered   string

	indicators []assignment
	entry      node
	exit       node
}

type assignment struct {
	name string
	expr node
}

// SignalSeries 是管线在一段 K 线上的输出。
// Enter/Exit 与输入序列逐根对齐，Columns 收录中间指标列供报表使用。
type SignalSeries struct {
	Enter   []bool
	Exit    []bool
	Columns map[string][]float64
}

var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Compile 把参数值代入模板并解析三段文法。任何未绑定的占位符、
// 缺失的段或非法表达式都会在这里报 CompileError，整轮演化随之中止。
// 不改写传入的模板，同一份模板可被多个评估 goroutine 并发编译。
func Compile(tpl *template.Template, values map[string]float64) (*Pipeline, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	rendered, err := renderBody(tpl, values)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{TemplateID: strings.TrimSpace(tpl.ID), Rendered: rendered}
	if err := p.parseStages(rendered); err != nil {
		return nil, err
	}
	return p, nil
}

// renderBody 用 decimal 渲染数值字面量：整数基因不带小数点，
// 浮点基因取最短十进制表示，避免 %f 尾零污染表达式。
func renderBody(tpl *template.Template, values map[string]float64) (string, error) {
	body := strings.TrimSpace(tpl.Body)
	for name, def := range tpl.Params {
		v, ok := values[name]
		if !ok {
			return "", compileErrf("参数 %q 没有绑定值", name)
		}
		var lit string
		if def.Kind == template.KindInteger {
			lit = decimal.NewFromInt(int64(math.Round(v))).String()
		} else {
			lit = decimal.NewFromFloat(v).String()
		}
		body = strings.ReplaceAll(body, "{"+name+"}", lit)
	}
	if m := placeholderRe.FindString(body); m != "" {
		return "", compileErrf("模板 %q 存在未绑定的占位符 %s", tpl.ID, m)
	}
	if strings.ContainsAny(body, "{}") {
		return "", compileErrf("模板 %q 存在残缺的占位符", tpl.ID)
	}
	return body, nil
}

func (p *Pipeline) parseStages(body string) error {
	type stage int
	const (
		stageNone stage = iota
		stageIndicators
		stageEntry
		stageExit
	)
	cur := stageNone
	var entryLines, exitLines []string
	seen := map[string]bool{}

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch strings.ToLower(line) {
		case "indicators:":
			cur = stageIndicators
			continue
		case "entry:":
			cur = stageEntry
			continue
		case "exit:":
			cur = stageExit
			continue
		}
		switch cur {
		case stageIndicators:
			name, expr, err := splitAssignment(line)
			if err != nil {
				return err
			}
			if err := checkIndicatorName(name, seen); err != nil {
				return err
			}
			ast, err := parseExpr(expr)
			if err != nil {
				return err
			}
			seen[name] = true
			p.indicators = append(p.indicators, assignment{name: name, expr: ast})
		case stageEntry:
			entryLines = append(entryLines, "("+line+")")
		case stageExit:
			exitLines = append(exitLines, "("+line+")")
		default:
			return compileErrf("段落之外的内容: %q", line)
		}
	}

	if len(entryLines) == 0 {
		return compileErrf("模板缺少 entry: 段")
	}
	if len(exitLines) == 0 {
		return compileErrf("模板缺少 exit: 段")
	}
	var err error
	if p.entry, err = parseExpr(strings.Join(entryLines, " and ")); err != nil {
		return err
	}
	if p.exit, err = parseExpr(strings.Join(exitLines, " and ")); err != nil {
		return err
	}
	return p.checkNames()
}

// checkNames 在编译期核对所有标识符与函数名，
// 保证无效模板在任何回测开始前就被拒绝。
func (p *Pipeline) checkNames() error {
	known := map[string]bool{}
	for name := range columnNames {
		known[name] = true
	}
	for _, a := range p.indicators {
		if err := checkNode(a.expr, known); err != nil {
			return err
		}
		known[a.name] = true
	}
	if err := checkNode(p.entry, known); err != nil {
		return err
	}
	return checkNode(p.exit, known)
}

func checkNode(n node, known map[string]bool) error {
	switch x := n.(type) {
	case *numberNode:
		return nil
	case *identNode:
		if !known[strings.ToLower(x.name)] && !known[x.name] {
			return compileErrf("未知标识符 %q", x.name)
		}
		return nil
	case *callNode:
		fn, ok := builtins[strings.ToLower(x.name)]
		if !ok {
			return compileErrf("未知函数 %q", x.name)
		}
		if len(x.args) < fn.minArgs || len(x.args) > fn.maxArgs {
			return compileErrf("函数 %q 参数个数 %d 非法", x.name, len(x.args))
		}
		for _, a := range x.args {
			if err := checkNode(a, known); err != nil {
				return err
			}
		}
		return nil
	case *unaryNode:
		return checkNode(x.x, known)
	case *binaryNode:
		if err := checkNode(x.l, known); err != nil {
			return err
		}
		return checkNode(x.r, known)
	default:
		return compileErrf("内部错误: 未知 AST 节点")
	}
}

func splitAssignment(line string) (string, string, error) {
	idx := strings.Index(line, "=")
	if idx <= 0 || (idx+1 < len(line) && line[idx+1] == '=') {
		return "", "", compileErrf("指标行必须是 name = expr 形式: %q", line)
	}
	name := strings.TrimSpace(line[:idx])
	expr := strings.TrimSpace(line[idx+1:])
	if name == "" || expr == "" {
		return "", "", compileErrf("指标行必须是 name = expr 形式: %q", line)
	}
	return name, expr, nil
}

var columnNames = map[string]bool{
	"open": true, "high": true, "low": true, "close": true, "volume": true,
}

func checkIndicatorName(name string, seen map[string]bool) error {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return compileErrf("指标名 %q 含非法字符", name)
		}
	}
	lower := strings.ToLower(name)
	if columnNames[lower] {
		return compileErrf("指标名 %q 与内置列冲突", name)
	}
	if _, ok := builtins[lower]; ok {
		return compileErrf("指标名 %q 与内置函数冲突", name)
	}
	if lower == "and" || lower == "or" || lower == "not" {
		return compileErrf("指标名 %q 是保留字", name)
	}
	if seen[name] {
		return compileErrf("指标名 %q 重复定义", name)
	}
	return nil
}

type evalEnv struct {
	n        int
	columns  map[string][]float64
	boolCols map[string][]bool
}

// Run 在给定 K 线序列上执行管线。
func (p *Pipeline) Run(series market.Series) (*SignalSeries, error) {
	if len(series) == 0 {
		return nil, compileErrf("K 线序列为空")
	}
	env := &evalEnv{
		n: len(series),
		columns: map[string][]float64{
			"open":   series.Opens(),
			"high":   series.Highs(),
			"low":    series.Lows(),
			"close":  series.Closes(),
			"volume": series.Volumes(),
		},
		boolCols: map[string][]bool{},
	}
	out := &SignalSeries{Columns: map[string][]float64{}}
	for _, a := range p.indicators {
		v, err := eval(env, a.expr)
		if err != nil {
			return nil, err
		}
		if v.isBool {
			env.boolCols[a.name] = v.bools
			continue
		}
		col := v.broadcast(env.n)
		env.columns[a.name] = col
		out.Columns[a.name] = col
	}
	enter, err := evalBool(env, p.entry)
	if err != nil {
		return nil, err
	}
	exit, err := evalBool(env, p.exit)
	if err != nil {
		return nil, err
	}
	out.Enter = enter
	out.Exit = exit
	return out, nil
}

func evalBool(env *evalEnv, n node) ([]bool, error) {
	v, err := eval(env, n)
	if err != nil {
		return nil, err
	}
	if !v.isBool {
		return nil, compileErrf("entry/exit 表达式必须产出布尔列")
	}
	return v.bools, nil
}

func eval(env *evalEnv, n node) (value, error) {
	switch x := n.(type) {
	case *numberNode:
		return scalarValue(x.value), nil
	case *identNode:
		lower := strings.ToLower(x.name)
		if col, ok := env.columns[lower]; ok {
			return seriesValue(col), nil
		}
		if col, ok := env.columns[x.name]; ok {
			return seriesValue(col), nil
		}
		if col, ok := env.boolCols[x.name]; ok {
			return boolValue(col), nil
		}
		return value{}, compileErrf("未知标识符 %q", x.name)
	case *callNode:
		fn, ok := builtins[strings.ToLower(x.name)]
		if !ok {
			return value{}, compileErrf("未知函数 %q", x.name)
		}
		if len(x.args) < fn.minArgs || len(x.args) > fn.maxArgs {
			return value{}, compileErrf("函数 %q 参数个数 %d 非法", x.name, len(x.args))
		}
		args := make([]value, len(x.args))
		for i, a := range x.args {
			v, err := eval(env, a)
			if err != nil {
				return value{}, err
			}
			args[i] = v
		}
		return fn.apply(env.n, args)
	case *unaryNode:
		v, err := eval(env, x.x)
		if err != nil {
			return value{}, err
		}
		if x.op == "not" {
			if !v.isBool {
				return value{}, compileErrf("not 需要布尔列")
			}
			out := make([]bool, len(v.bools))
			for i, b := range v.bools {
				out[i] = !b
			}
			return boolValue(out), nil
		}
		if v.isBool {
			return value{}, compileErrf("取负需要数值")
		}
		if v.scalar {
			return scalarValue(-v.f), nil
		}
		out := make([]float64, len(v.series))
		for i, f := range v.series {
			out[i] = -f
		}
		return seriesValue(out), nil
	case *binaryNode:
		return evalBinary(env, x)
	default:
		return value{}, compileErrf("内部错误: 未知 AST 节点")
	}
}

func evalBinary(env *evalEnv, x *binaryNode) (value, error) {
	l, err := eval(env, x.l)
	if err != nil {
		return value{}, err
	}
	r, err := eval(env, x.r)
	if err != nil {
		return value{}, err
	}
	switch x.op {
	case "and", "or":
		if !l.isBool || !r.isBool {
			return value{}, compileErrf("%s 两侧必须是布尔列", x.op)
		}
		if len(l.bools) != len(r.bools) {
			return value{}, compileErrf("%s 两侧长度不一致", x.op)
		}
		out := make([]bool, len(l.bools))
		for i := range out {
			if x.op == "and" {
				out[i] = l.bools[i] && r.bools[i]
			} else {
				out[i] = l.bools[i] || r.bools[i]
			}
		}
		return boolValue(out), nil
	}
	if l.isBool || r.isBool {
		return value{}, compileErrf("%s 不能作用于布尔列", x.op)
	}
	if isCmpOp(x.op) {
		a := l.broadcast(env.n)
		b := r.broadcast(env.n)
		if len(a) != len(b) {
			return value{}, compileErrf("比较两侧长度不一致: %d vs %d", len(a), len(b))
		}
		out := make([]bool, len(a))
		for i := range out {
			// NaN 参与的比较一律为假，warmup 区间不会触发信号。
			if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
				continue
			}
			out[i] = compare(x.op, a[i], b[i])
		}
		return boolValue(out), nil
	}
	if l.scalar && r.scalar {
		return scalarValue(arith(x.op, l.f, r.f)), nil
	}
	a := l.broadcast(env.n)
	b := r.broadcast(env.n)
	if len(a) != len(b) {
		return value{}, compileErrf("%s 两侧长度不一致: %d vs %d", x.op, len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range out {
		out[i] = arith(x.op, a[i], b[i])
	}
	return seriesValue(out), nil
}

func compare(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	default:
		return a != b
	}
}

func arith(op string, a, b float64) float64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	default:
		if b == 0 {
			return math.NaN()
		}
		return a / b
	}
}
