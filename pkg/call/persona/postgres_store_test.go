package persona

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePool emulates the personas table closely enough for the store's
// three statements.
type fakePool struct {
	rows map[string][]byte
	sqls []string
}

type fakeRow struct {
	body []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.body
	return nil
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.sqls = append(p.sqls, sql)
	id := args[0].(string)
	body := args[1].([]byte)
	_, exists := p.rows[id]
	if exists && strings.Contains(sql, "DO NOTHING") {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	p.rows[id] = body
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	body, ok := p.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{body: body}
}

func TestPostgresStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	pool := &fakePool{rows: map[string][]byte{}}
	store, err := NewPostgresStore(pool)
	require.NoError(t, err)

	_, err = store.Load(ctx, "sue")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, Default("sue", "first"), SaveOptions{}))
	assert.ErrorIs(t, store.Save(ctx, Default("sue", "second"), SaveOptions{}), ErrExists)

	got, err := store.Load(ctx, "sue")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Archetype)

	require.NoError(t, store.Save(ctx, Default("sue", "second"), SaveOptions{Overwrite: true}))
	got, err = store.Load(ctx, "sue")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Archetype)
	assert.Contains(t, pool.sqls[len(pool.sqls)-1], "DO UPDATE")
}

func TestPostgresStore_Malformed(t *testing.T) {
	pool := &fakePool{rows: map[string][]byte{"bad": []byte("{")}}
	store, err := NewPostgresStore(pool)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = store.Load(context.Background(), "Bad Id")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPostgresStore_StoresJSONBody(t *testing.T) {
	pool := &fakePool{rows: map[string][]byte{}}
	store, err := NewPostgresStore(pool)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), Default("sue", "crafty"), SaveOptions{}))

	var decoded Persona
	require.NoError(t, json.Unmarshal(pool.rows["sue"], &decoded))
	assert.Equal(t, "crafty", decoded.Archetype)
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}
