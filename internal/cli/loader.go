package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/store"
)

// LoadError reports a query file that could not be read at all, as opposed
// to one that was read and rejected.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadedQuery is a compiled and prepared query document together with the
// catalog it was resolved against.
type loadedQuery struct {
	Doc *compiler.Document
	// Inline holds the tables declared in the document itself.
	Inline   *catalog.Memory
	Catalog  catalog.Catalog
	Source   catalog.Source
	Prepared *compiler.Prepared
}

// loadQuery compiles the query file at path and prepares it against the
// document's inline tables layered over st. st may be nil.
//
// A missing file is a *LoadError. Every other failure is returned as the
// compiler or diagnostic error that caused it.
func loadQuery(path string, st *store.Store, logger *slog.Logger) (*loadedQuery, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("query file not found: %s", path)}
	}

	doc, err := compiler.CompileQueryFile(path)
	if err != nil {
		return nil, err
	}
	inline, err := doc.Catalog()
	if err != nil {
		return nil, err
	}

	lq := &loadedQuery{Doc: doc, Inline: inline, Catalog: inline, Source: inline}
	if st != nil {
		layers := []catalog.Catalog{inline, st}
		lq.Catalog = catalog.Layered(layers)
		lq.Source = catalog.LayeredSource{Catalogs: layers, Sources: []catalog.Source{inline, st}}
	}

	logger.Debug("compiled query", "file", path, "tables", len(doc.Tables))
	lq.Prepared, err = compiler.Prepare(doc.Query, lq.Catalog, logger)
	if err != nil {
		return nil, err
	}
	return lq, nil
}

// openStore opens the database at path, or returns nil when path is empty.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}
