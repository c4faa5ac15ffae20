package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ParamKind 标记基因的数值类型。
type ParamKind string

const (
	KindInteger ParamKind = "integer"
	KindFloat   ParamKind = "float"
)

// ParamDef 定义单个基因的类型与合法区间。
type ParamDef struct {
	Kind ParamKind `mapstructure:"kind" yaml:"kind" json:"kind"`
	Low  float64   `mapstructure:"low" yaml:"low" json:"low"`
	High float64   `mapstructure:"high" yaml:"high" json:"high"`
}

// ParamDefs 是占位符名 -> 定义的映射，由外部模板生成器产出，对本核心只读。
type ParamDefs map[string]ParamDef

// Template 是带 {name} 占位符的策略模板文本及其基因定义。
type Template struct {
	ID          string    `mapstructure:"id" yaml:"id"`
	Description string    `mapstructure:"description" yaml:"description"`
	Body        string    `mapstructure:"body" yaml:"body"`
	Params      ParamDefs `mapstructure:"params" yaml:"params"`
}

// documentSchema 约束生成器产出的 JSON 文档。
// 模板文本来自不可信的生成步骤，进入系统前先过一遍 schema。
const documentSchema = `{
	"type": "object",
	"required": ["template", "parameter_definitions"],
	"properties": {
		"template": {"type": "string", "minLength": 1},
		"parameter_definitions": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["kind", "low", "high"],
				"properties": {
					"kind": {"enum": ["integer", "int", "float"]},
					"low": {"type": "number"},
					"high": {"type": "number"}
				}
			}
		}
	}
}`

var compiledDocumentSchema = mustCompileSchema(documentSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("template_document.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("template_document.json")
}

// ParseDocument 解析生成器产出的 {"template": ..., "parameter_definitions": ...} 文档。
func ParseDocument(raw []byte) (Template, error) {
	if !gjson.ValidBytes(raw) {
		return Template{}, fmt.Errorf("template document 不是合法 JSON")
	}
	if err := compiledDocumentSchema.Validate(gjson.ParseBytes(raw).Value()); err != nil {
		return Template{}, fmt.Errorf("template document 校验失败: %w", err)
	}
	tpl := Template{
		ID:          gjson.GetBytes(raw, "id").String(),
		Description: gjson.GetBytes(raw, "description").String(),
		Body:        gjson.GetBytes(raw, "template").String(),
		Params:      make(ParamDefs),
	}
	defs := gjson.GetBytes(raw, "parameter_definitions")
	defs.ForEach(func(key, value gjson.Result) bool {
		tpl.Params[key.String()] = ParamDef{
			Kind: normalizeKind(value.Get("kind").String()),
			Low:  value.Get("low").Float(),
			High: value.Get("high").Float(),
		}
		return true
	})
	if err := tpl.Normalize(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func normalizeKind(raw string) ParamKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "int", "integer":
		return KindInteger
	default:
		return KindFloat
	}
}

// Normalize 去除 ID/Body 两端空白并校验，供 ParseDocument 与 Registry 在加载期调用。
func (t *Template) Normalize() error {
	t.ID = strings.TrimSpace(t.ID)
	t.Body = strings.TrimSpace(t.Body)
	return t.Validate()
}

// Validate 做边界与命名检查。只读，可在多个 goroutine 上并发调用。
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("template body 不能为空")
	}
	if len(t.Params) == 0 {
		return fmt.Errorf("template %q 未声明任何基因", t.ID)
	}
	for name, def := range t.Params {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("template %q 含空基因名", t.ID)
		}
		if def.Kind != KindInteger && def.Kind != KindFloat {
			return fmt.Errorf("基因 %s: 未知类型 %q", name, def.Kind)
		}
		if def.Low > def.High {
			return fmt.Errorf("基因 %s: 区间倒置 [%v, %v]", name, def.Low, def.High)
		}
		if !strings.Contains(t.Body, "{"+name+"}") {
			return fmt.Errorf("基因 %s 在模板文本中没有对应占位符", name)
		}
	}
	return nil
}

// Names 返回排序稳定的基因名列表（map 遍历顺序不可复现，必须排序）。
func (d ParamDefs) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
