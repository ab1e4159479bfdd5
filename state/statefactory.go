package state

import (
	"errors"
	"fmt"
)

// Stores bundles the three durable stores used by a run.
type Stores struct {
	Records    RecordStore
	Checkpoint CheckpointStore
	Errors     ErrorQueue

	closers []func() error
}

// NewStores builds the stores selected by config.
func NewStores(config Config) (*Stores, error) {
	s := &Stores{}

	switch config.RecordBackend {
	case "", "csv":
		s.Records = NewCSVRecordStore(config.RecordsPath)
	case "sqlite":
		store, err := NewSQLiteRecordStore(config.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.Records = store
	default:
		return nil, fmt.Errorf("unknown record backend %q", config.RecordBackend)
	}
	s.closers = append(s.closers, s.Records.Close)

	switch config.StateBackend {
	case "", "file":
		s.Checkpoint = NewFileCheckpointStore(config.CheckpointPath)
		s.Errors = NewFileErrorQueue(config.ErrorQueuePath)
	case "dapr":
		daprCfg := DaprConfig{}
		if config.DaprConfig != nil {
			daprCfg = *config.DaprConfig
		}
		store, err := NewDaprStateStore(daprCfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Checkpoint = store
		s.Errors = store
		s.closers = append(s.closers, store.Close)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown state backend %q", config.StateBackend)
	}

	return s, nil
}

// Close releases every store.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
