package postgres

import (
	"context"
	"embed"
	"io/fs"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed views/*.sql
var views embed.FS

// CreateViews - (re)creates SQL views for downstream readers and returns their names
func CreateViews(ctx context.Context, s Storage) ([]string, error) {
	files, err := fs.ReadDir(views, "views")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for i := range files {
		if files[i].IsDir() {
			continue
		}

		path := "views/" + files[i].Name()
		query, err := fs.ReadFile(views, path)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}

		if _, err := s.Connection().DB().ExecContext(ctx, string(query)); err != nil {
			return nil, errors.Wrap(err, path)
		}
		names = append(names, strings.TrimSuffix(files[i].Name(), ".sql"))
	}

	log.Info().Strs("views", names).Msg("views are created")
	return names, nil
}
