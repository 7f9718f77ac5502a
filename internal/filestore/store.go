package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// IFileStore holds raw document bodies by storage key. Ingestion writes the
// body once at upload and reads it back for processing and reprocessing.
type IFileStore interface {
	Name() string
	Save(ctx context.Context, key string, body io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

type FactoryFunc func(args interface{}) (IFileStore, error)

var factories = make(map[string]FactoryFunc)

func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

func New(name string, args interface{}) (IFileStore, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("file store not found, name:%s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, target interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
