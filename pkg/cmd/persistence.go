package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
)

// ErrUnsupportedProvider is returned for an unknown persistence or event bus provider.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence opens the store named by databaseURL. "postgres://" and
// "postgresql://" select PostgreSQL; "file://<dir>" or a bare path selects
// the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch provider, rest := parsePersistenceProvider(databaseURL); provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(rest), nil
	default:
		return nil, errors.Join(ErrUnsupportedProvider, errors.New(provider))
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
