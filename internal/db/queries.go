package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// Upsert replaces the content of table:id, creating the record if needed.
func (c *Client) Upsert(ctx context.Context, table, id string, content any) error {
	sql := `UPSERT type::record($table, $id) CONTENT $content RETURN NONE`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"table":   table,
		"id":      id,
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, wrapQueryError(err))
	}
	return nil
}

// Create inserts table:id. It fails with ErrRecordExists when the record is
// already stored.
func (c *Client) Create(ctx context.Context, table, id string, content any) error {
	sql := `CREATE type::record($table, $id) CONTENT $content RETURN NONE`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"table":   table,
		"id":      id,
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", table, wrapQueryError(err))
	}
	return nil
}

// Get loads table:id into a T. It returns ErrNotFound when no record exists.
func Get[T any](ctx context.Context, c *Client, table, id string) (*T, error) {
	sql := `SELECT * OMIT id FROM type::record($table, $id)`
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, map[string]any{
		"table": table,
		"id":    id,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, table, id)
	}
	return &(*results)[0].Result[0], nil
}

// Count returns the number of records in table.
func (c *Client) Count(ctx context.Context, table string) (int, error) {
	sql := `SELECT count() AS c FROM type::table($table) GROUP ALL`
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, c.db, sql, map[string]any{"table": table})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
