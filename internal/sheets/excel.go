package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// ExcelBackend 以本地 xlsx 工作簿作为表格存储：每张表一个工作表，第 1 行为表头。
// 每次修改后立即落盘。句柄 = 工作表行号。
type ExcelBackend struct {
	path string

	mu sync.Mutex
	f  *excelize.File
}

// NewExcelBackend 打开（不存在则创建）工作簿
func NewExcelBackend(path string) (*ExcelBackend, error) {
	b := &ExcelBackend{path: path}
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		b.f = f
		return b, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat workbook %s: %w", path, err)
	}
	b.f = excelize.NewFile()
	return b, nil
}

// Close 关闭工作簿
func (b *ExcelBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.Close()
}

func (b *ExcelBackend) Describe(ctx context.Context) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]string)
	for _, sheet := range b.f.GetSheetList() {
		headers, err := b.headers(sheet)
		if err != nil {
			return nil, err
		}
		// 只有表头的工作表才算表
		if len(headers) == 0 {
			continue
		}
		out[sheet] = headers
	}
	return out, nil
}

func (b *ExcelBackend) ReadRows(ctx context.Context, table string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(table) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	rows, err := b.f.GetRows(table, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	headers := rows[0]
	recs := make([]Record, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		row := make(Row, len(headers))
		blank := true
		for c, h := range headers {
			if h == "" || c >= len(cells) {
				continue
			}
			if cells[c] != "" {
				blank = false
			}
			row[h] = cells[c]
		}
		if blank {
			continue
		}
		recs = append(recs, Record{Handle: int64(i + 2), Values: row})
	}
	return recs, nil
}

func (b *ExcelBackend) AppendRows(ctx context.Context, table string, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	headers, err := b.requireHeaders(table)
	if err != nil {
		return err
	}
	existing, err := b.f.GetRows(table)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", table, err)
	}
	next := len(existing) + 1
	for i, r := range rows {
		if err := b.setRow(table, next+i, headers, r); err != nil {
			return err
		}
	}
	return b.save()
}

func (b *ExcelBackend) WriteRow(ctx context.Context, table string, handle int64, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if handle < 2 {
		return fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, handle)
	}
	headers, err := b.requireHeaders(table)
	if err != nil {
		return err
	}
	if err := b.setRow(table, int(handle), headers, row); err != nil {
		return err
	}
	return b.save()
}

func (b *ExcelBackend) DeleteRow(ctx context.Context, table string, handle int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if handle < 2 {
		return fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, handle)
	}
	if !b.exists(table) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err := b.f.RemoveRow(table, int(handle)); err != nil {
		return fmt.Errorf("failed to remove row %d from %s: %w", handle, table, err)
	}
	return b.save()
}

func (b *ExcelBackend) WriteHeaders(ctx context.Context, table string, headers []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.exists(table) {
		if _, err := b.f.NewSheet(table); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", table, err)
		}
		// 新文件自带的空白 Sheet1 在有了第一张真实表后删除
		if table != defaultSheet && b.exists(defaultSheet) {
			if h, _ := b.headers(defaultSheet); len(h) == 0 {
				_ = b.f.DeleteSheet(defaultSheet)
			}
		}
	}
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	if err := b.f.SetSheetRow(table, "A1", &cells); err != nil {
		return fmt.Errorf("failed to write headers for %s: %w", table, err)
	}
	return b.save()
}

func (b *ExcelBackend) exists(sheet string) bool {
	for _, s := range b.f.GetSheetList() {
		if s == sheet {
			return true
		}
	}
	return false
}

func (b *ExcelBackend) headers(sheet string) ([]string, error) {
	rows, err := b.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (b *ExcelBackend) requireHeaders(table string) ([]string, error) {
	if !b.exists(table) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	headers, err := b.headers(table)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: %s has no header row", ErrSchema, table)
	}
	return headers, nil
}

func (b *ExcelBackend) setRow(sheet string, rowNum int, headers []string, r Row) error {
	cells := make([]any, len(headers))
	for i, h := range headers {
		v, ok := r[h]
		if !ok || v == nil {
			cells[i] = ""
			continue
		}
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := b.f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d in %s: %w", rowNum, sheet, err)
	}
	return nil
}

func (b *ExcelBackend) save() error {
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create workbook dir: %w", err)
		}
	}
	if err := b.f.SaveAs(b.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", b.path, err)
	}
	return nil
}
