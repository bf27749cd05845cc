package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit/memstore"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit/pgstore"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/postgres"
)

var errNoDatabase = errors.New("database-url is required for this command")

func (a *app) classifier() (*classify.Classifier, error) {
	catalog, err := classify.LoadCatalog(a.v.GetString("catalog-file"))
	if err != nil {
		return nil, fmt.Errorf("classification catalog: %w", err)
	}
	return classify.New(catalog, classify.FixedZone(a.v.GetInt("utc-offset-hours"))), nil
}

// service opens the configured store and returns a loaded audit service.
// Without a database the store is in-memory unless needDB is set. The
// returned func releases the store.
func (a *app) service(ctx context.Context, needDB bool) (*audit.Service, func(), error) {
	classifier, err := a.classifier()
	if err != nil {
		return nil, nil, err
	}

	var (
		store   audit.Store
		release = func() {}
	)
	if url := a.v.GetString("database-url"); url != "" {
		pool, err := postgres.NewPool(ctx, url, postgres.PoolOptions{MaxConns: 2})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		pg, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		store, release = pg, pool.Close
	} else {
		if needDB {
			return nil, nil, errNoDatabase
		}
		a.logger.Warn(ctx, "no database-url configured, using an in-memory store")
		store = memstore.New()
	}

	svc := audit.NewService(store, classifier, a.logger, audit.Options{})
	if err := svc.Load(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	return svc, release, nil
}
