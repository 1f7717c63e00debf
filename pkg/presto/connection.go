package presto

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/prestodb/presto-go-client/presto"
	log "github.com/sirupsen/logrus"
)

// NewPrestoConnWithRetry opens a connection to the Presto coordinator at dsn
// and pings it until it answers, backing off between attempts.
func NewPrestoConnWithRetry(ctx context.Context, logger log.FieldLogger, dsn string, connBackoff time.Duration, maxRetries int) (*sql.DB, error) {
	db, err := sql.Open("presto", dsn)
	if err != nil {
		return nil, err
	}

	backoff := connBackoff
	for attempt := 1; ; attempt++ {
		err = ExecQuery(ctx, db, "SELECT 1")
		if err == nil {
			return db, nil
		}
		if attempt >= maxRetries {
			db.Close()
			return nil, fmt.Errorf("timed out while waiting to connect to presto: %w", err)
		}
		logger.WithError(err).Debugf("error encountered, backing off %s and trying again", backoff)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = backoff * 5 / 4
	}
}
