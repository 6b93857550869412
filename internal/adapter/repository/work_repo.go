package repository

import (
	"context"
	"fmt"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Only English works are embedded; the corpus is scraped multilingual but the
// encoder models are English-only.
const eligibleLanguage = "English"

const workColumns = `path, title, author, category, genre, rating, warnings,
	       summary, story_url, relationships, series, collections, language, packaged`

type workRepository struct {
	pool *pgxpool.Pool
}

// NewWorkRepository creates the metadata-store adapter backed by the works table.
func NewWorkRepository(pool *pgxpool.Pool) domain.WorkRepository {
	return &workRepository{pool: pool}
}

func (r *workRepository) getExecutor(ctx context.Context) interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
} {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *workRepository) CountEligible(ctx context.Context) (int, error) {
	var count int
	err := r.getExecutor(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM works WHERE language = $1`, eligibleLanguage,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible works: %w", err)
	}
	return count, nil
}

func (r *workRepository) ScanBatches(ctx context.Context, batchSize int, fn func(ctx context.Context, works []domain.Work) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", batchSize)
	}

	// Keyset pagination on the primary key keeps the scan order stable and
	// avoids holding a cursor open across embedding calls.
	query := fmt.Sprintf(`
		SELECT %s
		FROM works
		WHERE language = $1 AND path > $2
		ORDER BY path ASC
		LIMIT $3
	`, workColumns)

	lastPath := ""
	for {
		rows, err := r.getExecutor(ctx).Query(ctx, query, eligibleLanguage, lastPath, batchSize)
		if err != nil {
			return fmt.Errorf("failed to scan works: %w", err)
		}

		works, err := collectWorks(rows)
		if err != nil {
			return err
		}
		if len(works) == 0 {
			return nil
		}

		if err := fn(ctx, works); err != nil {
			return err
		}

		lastPath = works[len(works)-1].Path
		if len(works) < batchSize {
			return nil
		}
	}
}

func (r *workRepository) LookupByPaths(ctx context.Context, paths []string) (map[string]domain.Work, error) {
	result := make(map[string]domain.Work, len(paths))
	if len(paths) == 0 {
		return result, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM works WHERE path = ANY($1)`, workColumns)
	rows, err := r.getExecutor(ctx).Query(ctx, query, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to look up works: %w", err)
	}

	works, err := collectWorks(rows)
	if err != nil {
		return nil, err
	}
	for _, w := range works {
		result[w.Path] = w
	}
	return result, nil
}

func collectWorks(rows pgx.Rows) ([]domain.Work, error) {
	defer rows.Close()

	var works []domain.Work
	for rows.Next() {
		var (
			w                                domain.Work
			summary, storyURL, relationships pgtype.Text
			series, collections              pgtype.Text
			packaged                         pgtype.Timestamptz
		)
		err := rows.Scan(
			&w.Path, &w.Title, &w.Author, &w.Category, &w.Genre, &w.Rating, &w.Warnings,
			&summary, &storyURL, &relationships, &series, &collections,
			&w.Language, &packaged,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work: %w", err)
		}
		w.Summary = summary.String
		w.StoryURL = storyURL.String
		w.Relationships = relationships.String
		w.Series = series.String
		w.Collections = collections.String
		w.Packaged = packaged.Time
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return works, nil
}
