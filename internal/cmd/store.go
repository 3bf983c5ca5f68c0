package cmd

import (
	"context"
	"errors"

	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/core/store"
)

var errStoreDisabled = errors.New("the execution ledger is disabled (store.enabled=false)")

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, errStoreDisabled
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
