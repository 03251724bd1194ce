package storage

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// WidgetStore is the surface shared by the SQLite and bolt stores.
type WidgetStore interface {
	SaveWidget(rec WidgetRecord) error
	GetWidget(id string) (*WidgetRecord, error)
	ListWidgets() ([]WidgetRecord, error)
	DeleteWidget(id string) error
	AddObserver(observer Observer)
	Close() error
}

var (
	_ WidgetStore = (*Store)(nil)
	_ WidgetStore = (*BoltStore)(nil)
)

// Open opens the store for backend at path. An empty backend means SQLite.
func Open(backend, path string) (WidgetStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		return New(path)
	case BackendBolt:
		return NewBolt(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
