// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/pdiddy/fileconv/internal/catalog"
	"github.com/pdiddy/fileconv/internal/convert"
	"github.com/pdiddy/fileconv/internal/journal"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/preview"
	"github.com/pdiddy/fileconv/internal/secrets"
	"github.com/pdiddy/fileconv/internal/storage"
	"github.com/pdiddy/fileconv/internal/transfer"
	"github.com/pdiddy/fileconv/pkg/types"
)

// app holds the process-wide collaborators built once from the config.
// They are read-only after construction and shared by every Machine.
type app struct {
	catalog   *catalog.Catalog
	handles   *objurl.Registry
	previews  *preview.Generator
	store     storage.Store
	converter convert.Converter
	journal   *journal.Journal
	log       *slog.Logger
}

// newApp builds the collaborators described by c.
func newApp(ctx context.Context, c types.Config, sec map[string]string) (*app, error) {
	log := slog.Default()
	if missing := secrets.Missing(sec, requiredSecrets(c)...); len(missing) > 0 {
		log.Warn("secrets not set, backends use default or anonymous credentials", "missing", missing)
	}

	cat, err := catalog.FromPath(c.Catalog)
	if err != nil {
		return nil, err
	}

	a := &app{
		catalog: cat,
		handles: objurl.NewRegistry(),
		log:     log,
	}
	a.previews = preview.NewGenerator(a.handles, c.Preview.TextLimit)

	var ckpt storage.Checkpointer
	if c.Storage.Journal != "" {
		if a.journal, err = journal.Open(c.Storage.Journal); err != nil {
			return nil, err
		}
		ckpt = a.journal
	}

	if a.store, err = storage.New(ctx, c.Storage, sec, ckpt, log); err != nil {
		a.Close()
		return nil, err
	}

	a.converter, err = convert.New(ctx, c.Conversion, convert.Deps{
		Store:   a.store,
		Secrets: sec,
		Logger:  log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Debug("collaborators ready",
		"storage", a.store.Name(), "conversion", c.Conversion.Backend, "formats", cat.Len())
	return a, nil
}

// requiredSecrets lists the secrets read by the backends c selects.
func requiredSecrets(c types.Config) []string {
	var keys []string
	switch c.Storage.Backend {
	case types.StorageS3:
		keys = append(keys, storage.SecretS3AccessKeyID, storage.SecretS3SecretAccessKey)
	case types.StorageMinio:
		keys = append(keys, storage.SecretMinioAccessKey, storage.SecretMinioSecretKey)
	case types.StorageNATS:
		keys = append(keys, storage.SecretNATSToken)
	}
	if c.Conversion.Backend == types.BackendRemote {
		keys = append(keys, convert.SecretConverterToken)
	}
	return keys
}

// newMachine returns a Machine wired to the shared collaborators.
func (a *app) newMachine(opts ...transfer.Option) *transfer.Machine {
	return transfer.New(transfer.Deps{
		Catalog:   a.catalog,
		Store:     a.store,
		Converter: a.converter,
		Handles:   a.handles,
		Previews:  a.previews,
		Logger:    a.log,
	}, opts...)
}

// Close releases the store connection and the journal.
func (a *app) Close() error {
	var errs []error
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	return errors.Join(errs...)
}
