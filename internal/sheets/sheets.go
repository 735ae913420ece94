// Package sheets 远程表格存储的网关。
//
// 远程存储只提供按行读写：没有事务、没有外键、没有原生类型。
// Backend 是按行句柄操作的底层适配器（内存 / Excel 工作簿 / REST 网关 / Postgres 镜像）；
// Gateway 在其上实现 Client 契约：每次调用带超时，配额错误按指数退避有限重试，
// 表头描述信息作为进程级会话缓存。
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrQuotaExceeded 远程限流/配额错误（唯一会被自动重试的错误类别）
	ErrQuotaExceeded = errors.New("remote quota exceeded")
	// ErrTimeout 单次调用超时（不自动重试）
	ErrTimeout = errors.New("remote call timed out")
	// ErrSchema 表头无法创建/扩展
	ErrSchema = errors.New("remote schema error")
	// ErrTableNotFound 表不存在
	ErrTableNotFound = errors.New("table not found")
	// ErrRowNotFound 没有匹配的行
	ErrRowNotFound = errors.New("row not found")
)

// RemoteError 带操作上下文的远程错误
type RemoteError struct {
	Op    string
	Table string
	Err   error
}

func (e *RemoteError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("sheets %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sheets %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRetryable 调用方可提示"稍后再试"的错误
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrTimeout)
}

// Row 一行：列名 -> 松散类型的单元格值（string / float64 / bool / time.Time / nil）
type Row map[string]any

// Clone 浅拷贝
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String 单元格的文本形式（缺失或 nil 为空串）
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Has 列存在且非空
func (r Row) Has(col string) bool {
	return r.String(col) != ""
}

// Predicate 行匹配条件
type Predicate func(Row) bool

// ByColumn 列值（文本形式）等于 value
func ByColumn(col, value string) Predicate {
	return func(r Row) bool { return r.String(col) == value }
}

// Record 带句柄的行（句柄由 Backend 定义，如行号或主键）
type Record struct {
	Handle int64
	Values Row
}

// Backend 底层表格适配器
type Backend interface {
	// Describe 返回 表名 -> 表头；代价较高，由 Gateway 缓存
	Describe(ctx context.Context) (map[string][]string, error)
	ReadRows(ctx context.Context, table string) ([]Record, error)
	AppendRows(ctx context.Context, table string, rows []Row) error
	WriteRow(ctx context.Context, table string, handle int64, row Row) error
	DeleteRow(ctx context.Context, table string, handle int64) error
	// WriteHeaders 设置完整表头；表不存在时创建
	WriteHeaders(ctx context.Context, table string, headers []string) error
}

// Client 仓储层依赖的远程表格契约
type Client interface {
	GetRows(ctx context.Context, table string) ([]Row, error)
	AddRow(ctx context.Context, table string, row Row) error
	AddRows(ctx context.Context, table string, rows []Row) error
	// FindAndUpdateRow 覆盖第一条匹配行中的 fields 列；无匹配返回 ErrRowNotFound
	FindAndUpdateRow(ctx context.Context, table string, match Predicate, fields Row) error
	// ModifyRow 单次读-改-写：fn 收到当前存储的行，返回要写回的完整行；
	// fn 返回 nil 行表示无需写入（此时 after == before）
	ModifyRow(ctx context.Context, table string, match Predicate, fn func(current Row) (Row, error)) (before, after Row, err error)
	// DeleteRows 删除所有匹配行并返回被删除的行
	DeleteRows(ctx context.Context, table string, match Predicate) ([]Row, error)
	// ReplaceRows 用 rows 整体替换表内容
	ReplaceRows(ctx context.Context, table string, rows []Row) error
	// ReplaceMatching 用 rows 替换所有匹配行；先写新行再删旧行
	ReplaceMatching(ctx context.Context, table string, match Predicate, rows []Row) error
	// EnsureHeaders 追加缺失的列（不重排、不删除）；表不存在时创建
	EnsureHeaders(ctx context.Context, table string, columns []string) error
}
