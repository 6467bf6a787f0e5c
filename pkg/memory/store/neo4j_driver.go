package store

import (
	"context"

	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var (
	_ neo4jDriver      = (*neo4jDriverWrapper)(nil)
	_ neo4jSession     = (*neo4jSessionWrapper)(nil)
	_ neo4jTransaction = (*neo4jTransactionWrapper)(nil)
	_ neo4jResult      = (*neo4jResultWrapper)(nil)
	_ neo4jRecord      = neo4jRecordWrapper{}
)

type neo4jDriverWrapper struct {
	driver neo4j.DriverWithContext
}

// WrapNeo4jDriver adapts the official Neo4j Go driver so it can be used with
// NewNeo4jGraphStore.
func WrapNeo4jDriver(driver neo4j.DriverWithContext) neo4jDriver {
	if driver == nil {
		return nil
	}
	return &neo4jDriverWrapper{driver: driver}
}

// DialNeo4j connects to a Neo4j instance with basic auth and wraps the
// resulting driver.
func DialNeo4j(uri, username, password string) (neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	return WrapNeo4jDriver(driver), nil
}

func (d *neo4jDriverWrapper) NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error) {
	sessionConfig := neo4j.SessionConfig{DatabaseName: config.DatabaseName}
	switch config.AccessMode {
	case AccessModeWrite:
		sessionConfig.AccessMode = neo4j.AccessModeWrite
	case AccessModeRead:
		sessionConfig.AccessMode = neo4j.AccessModeRead
	}
	session := d.driver.NewSession(ctx, sessionConfig)
	return &neo4jSessionWrapper{session: session}, nil
}

func (d *neo4jDriverWrapper) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

type neo4jSessionWrapper struct {
	session neo4j.SessionWithContext
}

func (s *neo4jSessionWrapper) BeginTransaction(ctx context.Context) (neo4jTransaction, error) {
	tx, err := s.session.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	return &neo4jTransactionWrapper{tx: tx}, nil
}

func (s *neo4jSessionWrapper) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	res, err := s.session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return &neo4jResultWrapper{result: res}, nil
}

func (s *neo4jSessionWrapper) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

type neo4jTransactionWrapper struct {
	tx neo4j.ExplicitTransaction
}

func (t *neo4jTransactionWrapper) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return &neo4jResultWrapper{result: res}, nil
}

func (t *neo4jTransactionWrapper) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *neo4jTransactionWrapper) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *neo4jTransactionWrapper) Close(ctx context.Context) error {
	return t.tx.Close(ctx)
}

type neo4jResultWrapper struct {
	result neo4j.ResultWithContext
}

func (r *neo4jResultWrapper) Next(ctx context.Context) bool {
	return r.result.Next(ctx)
}

func (r *neo4jResultWrapper) Record() neo4jRecord {
	rec := r.result.Record()
	if rec == nil {
		return nil
	}
	return neo4jRecordWrapper{record: rec}
}

func (r *neo4jResultWrapper) Err() error {
	return r.result.Err()
}

func (r *neo4jResultWrapper) Close(ctx context.Context) error {
	// The driver exposes no Close on results; consuming discards the
	// remaining stream and releases the connection.
	_, err := r.result.Consume(ctx)
	return err
}

type neo4jRecordWrapper struct {
	record *neo4j.Record
}

func (r neo4jRecordWrapper) Get(key string) (any, bool) {
	if r.record == nil {
		return nil, false
	}
	return r.record.Get(key)
}
