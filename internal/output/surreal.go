package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/docjobs/internal/db"
)

// Surreal stores units as SurrealDB records keyed like the filesystem layout.
type Surreal struct {
	client *db.Client
	owned  bool
}

// NewSurreal writes through client. When owned is true, Close closes the client.
func NewSurreal(client *db.Client, owned bool) *Surreal {
	return &Surreal{client: client, owned: owned}
}

// OpenSurreal connects to SurrealDB and prepares the output tables. With wipe
// set, existing output records are deleted first.
func OpenSurreal(ctx context.Context, cfg db.Config, wipe bool, logger *slog.Logger) (*Surreal, error) {
	client, err := db.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	if wipe {
		if err := client.WipeData(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
	}
	return NewSurreal(client, true), nil
}

// UnitID returns the record id of the unit for key at offset.
func UnitID(key Key, offset int) string {
	return key.Dir() + "/" + UnitName(offset)
}

func (s *Surreal) WriteSchema(ctx context.Context, d Descriptor) error {
	err := s.client.Create(ctx, db.TableOutputSchema, d.Key.Dir(), d)
	if errors.Is(err, db.ErrRecordExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

func (s *Surreal) WriteUnit(ctx context.Context, u Unit) error {
	if err := s.client.Upsert(ctx, db.TableBatchOutput, UnitID(u.Key, u.Offset), u); err != nil {
		return fmt.Errorf("write unit at offset %d: %w", u.Offset, err)
	}
	return nil
}

// ReadUnit loads a stored unit.
func (s *Surreal) ReadUnit(ctx context.Context, key Key, offset int) (Unit, error) {
	u, err := db.Get[Unit](ctx, s.client, db.TableBatchOutput, UnitID(key, offset))
	if err != nil {
		return Unit{}, err
	}
	return *u, nil
}

func (s *Surreal) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close(ctx)
}
