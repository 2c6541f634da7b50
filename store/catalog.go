package store

import (
	"context"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// document is the persisted form of a catalog entry. Definitions are stored
// as opaque JSON documents keyed by kind and id; the schema never needs to
// change when the definition shape evolves.
type document struct {
	Kind      string `gorm:"primaryKey;size:32"`
	ID        string `gorm:"primaryKey;size:255"`
	Body      []byte
	UpdatedAt time.Time
}

// TableName keeps the table name stable.
func (document) TableName() string { return "catalog_documents" }

const (
	kindWorkflow = "workflow"
	kindGate     = "gate"
)

// SQLCatalog persists workflow and gate definitions in a SQLite database.
type SQLCatalog struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenSQLCatalog opens (and migrates) a SQLite-backed catalog at path.
// Use ":memory:" for an in-memory database.
func OpenSQLCatalog(path string, zlog *zap.Logger) (*SQLCatalog, error) {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, err
	}
	return &SQLCatalog{
		db:  db,
		log: zlog.With(zap.String("component", "sql_catalog")),
	}, nil
}

// PutWorkflow stores or replaces a workflow document.
func (c *SQLCatalog) PutWorkflow(ctx context.Context, id string, doc []byte) error {
	return c.put(ctx, kindWorkflow, id, doc)
}

// ListWorkflows returns all persisted workflow documents keyed by id.
func (c *SQLCatalog) ListWorkflows(ctx context.Context) (map[string][]byte, error) {
	return c.list(ctx, kindWorkflow)
}

// PutGate stores or replaces a gate document.
func (c *SQLCatalog) PutGate(ctx context.Context, id string, doc []byte) error {
	return c.put(ctx, kindGate, id, doc)
}

// ListGates returns all persisted gate documents keyed by id.
func (c *SQLCatalog) ListGates(ctx context.Context) (map[string][]byte, error) {
	return c.list(ctx, kindGate)
}

func (c *SQLCatalog) put(ctx context.Context, kind, id string, body []byte) error {
	doc := document{Kind: kind, ID: id, Body: body, UpdatedAt: time.Now()}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).
		Create(&doc).Error
	if err != nil {
		return err
	}
	c.log.Debug("catalog document stored",
		zap.String("kind", kind),
		zap.String("id", id),
	)
	return nil
}

func (c *SQLCatalog) list(ctx context.Context, kind string) (map[string][]byte, error) {
	var docs []document
	if err := c.db.WithContext(ctx).Where("kind = ?", kind).Find(&docs).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc.Body
	}
	return out, nil
}

// Close releases the underlying database connection.
func (c *SQLCatalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryCatalog is an in-process catalog store, used in tests and when no
// persistence is configured.
type MemoryCatalog struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{docs: map[string]map[string][]byte{}}
}

// PutWorkflow stores or replaces a workflow document.
func (m *MemoryCatalog) PutWorkflow(_ context.Context, id string, doc []byte) error {
	m.put(kindWorkflow, id, doc)
	return nil
}

// ListWorkflows returns all stored workflow documents keyed by id.
func (m *MemoryCatalog) ListWorkflows(_ context.Context) (map[string][]byte, error) {
	return m.list(kindWorkflow), nil
}

// PutGate stores or replaces a gate document.
func (m *MemoryCatalog) PutGate(_ context.Context, id string, doc []byte) error {
	m.put(kindGate, id, doc)
	return nil
}

// ListGates returns all stored gate documents keyed by id.
func (m *MemoryCatalog) ListGates(_ context.Context) (map[string][]byte, error) {
	return m.list(kindGate), nil
}

func (m *MemoryCatalog) put(kind, id string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[kind] == nil {
		m.docs[kind] = map[string][]byte{}
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	m.docs[kind][id] = cp
}

func (m *MemoryCatalog) list(kind string) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.docs[kind]))
	for id, body := range m.docs[kind] {
		cp := make([]byte, len(body))
		copy(cp, body)
		out[id] = cp
	}
	return out
}
