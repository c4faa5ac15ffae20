package signal

import "fmt"

// CompileError 表示模板无法编译为合法管道。
// 模板对同一次运行的所有个体是共享的，所以编译失败会中止整个搜索，
// 而不是把每个个体都降级为哨兵值。
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string {
	return "signal compile: " + e.Reason
}

func compileErrf(format string, v ...any) error {
	return &CompileError{Reason: fmt.Sprintf(format, v...)}
}
