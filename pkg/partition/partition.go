// Package partition replaces the contents of month partitions in a
// destination table.
package partition

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

// DeleteError is returned when an existing partition could not be cleared.
// The manifest being loaded must not be loaded on top of it.
type DeleteError struct {
	Table warehouse.TableRef
	Value string
	Err   error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("could not delete partition %s of %s: %v", e.Value, e.Table, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

type Manager struct {
	logger    log.FieldLogger
	warehouse warehouse.Warehouse
}

func NewManager(logger log.FieldLogger, wh warehouse.Warehouse) *Manager {
	return &Manager{
		logger:    logger.WithField("component", "partition"),
		warehouse: wh,
	}
}

// DeletePartition removes every row whose column falls in the month starting
// at value (YYYY-MM-01) and returns how many rows were removed. A missing
// table is not an error; there is nothing to delete on a first load.
func (m *Manager) DeletePartition(ctx context.Context, table warehouse.TableRef, column, value string) (int64, error) {
	p := warehouse.PartitionPredicate{Column: column, Value: value}
	if _, err := p.Month(); err != nil {
		return 0, &DeleteError{Table: table, Value: value, Err: err}
	}
	exists, err := m.warehouse.TableExists(ctx, table)
	if err != nil {
		return 0, &DeleteError{Table: table, Value: value, Err: err}
	}
	if !exists {
		m.logger.Debugf("table %s does not exist yet, nothing to delete for %s", table, value)
		return 0, nil
	}

	n, err := m.warehouse.DeleteRows(ctx, table, p)
	if err != nil {
		if errors.Is(err, warehouse.ErrTableNotFound) {
			return 0, nil
		}
		return 0, &DeleteError{Table: table, Value: value, Err: err}
	}
	m.logger.WithField("rows_deleted", n).Infof("deleted partition %s from %s", value, table)
	return n, nil
}

// PartitionExists reports whether the month partition holds any rows.
func (m *Manager) PartitionExists(ctx context.Context, table warehouse.TableRef, column, value string) (bool, error) {
	exists, err := m.warehouse.TableExists(ctx, table)
	if err != nil || !exists {
		return false, err
	}
	n, err := m.warehouse.CountRows(ctx, table, warehouse.PartitionPredicate{Column: column, Value: value})
	if err != nil {
		if errors.Is(err, warehouse.ErrTableNotFound) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}
