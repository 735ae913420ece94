package sheets

import (
	"context"
	"fmt"
	"sync"
)

type memTable struct {
	headers []string
	rows    []Row
}

// MemoryBackend 进程内表格（本地开发 / 测试）。句柄 = 表内行号，表头为第 1 行，数据从第 2 行开始。
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

// NewMemoryBackend 创建空的内存表格
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string]*memTable)}
}

func (m *MemoryBackend) Describe(ctx context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.tables))
	for name, t := range m.tables {
		out[name] = append([]string(nil), t.headers...)
	}
	return out, nil
}

func (m *MemoryBackend) ReadRows(ctx context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	recs := make([]Record, 0, len(t.rows))
	for i, r := range t.rows {
		recs = append(recs, Record{Handle: int64(i + 2), Values: r.Clone()})
	}
	return recs, nil
}

func (m *MemoryBackend) AppendRows(ctx context.Context, table string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for _, r := range rows {
		t.rows = append(t.rows, t.project(r))
	}
	return nil
}

func (m *MemoryBackend) WriteRow(ctx context.Context, table string, handle int64, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, idx, err := m.locate(table, handle)
	if err != nil {
		return err
	}
	t.rows[idx] = t.project(row)
	return nil
}

func (m *MemoryBackend) DeleteRow(ctx context.Context, table string, handle int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, idx, err := m.locate(table, handle)
	if err != nil {
		return err
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	return nil
}

func (m *MemoryBackend) WriteHeaders(ctx context.Context, table string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{}
		m.tables[table] = t
	}
	t.headers = append([]string(nil), headers...)
	return nil
}

func (m *MemoryBackend) locate(table string, handle int64) (*memTable, int, error) {
	t, ok := m.tables[table]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	idx := int(handle - 2)
	if idx < 0 || idx >= len(t.rows) {
		return nil, 0, fmt.Errorf("%w: %s row %d", ErrRowNotFound, table, handle)
	}
	return t, idx, nil
}

// project 只保留表头中存在的列，与真实表格的行为一致
func (t *memTable) project(r Row) Row {
	out := make(Row, len(t.headers))
	for _, h := range t.headers {
		if v, ok := r[h]; ok {
			out[h] = v
		}
	}
	return out
}
