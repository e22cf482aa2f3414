package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := newTestEnv(t)
	src.seed(t, "customers",
		record.Record{"id": "c1", "name": "Acme", "limit": 5000.0, "active": true},
		record.Record{"id": "c2", "name": "Globex", "tags": []any{"a", "b"}},
	)
	src.seed(t, "invoices", record.Record{"id": "i1", "customer": "c1", "amount": 12.5})

	bundle, err := src.svc.Backup(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, BundleVersion, bundle.Version)
	assert.Equal(t, 3, bundle.RecordCount())

	data, err := MarshalBundle(bundle)
	require.NoError(t, err)

	dst := newTestEnv(t)
	res, err := dst.svc.Restore(context.Background(), data, RestoreMerge)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", res.Version)
	assert.Equal(t, CollectionRestore{Inserted: 2}, res.Collections["customers"])
	assert.Equal(t, CollectionRestore{Inserted: 1}, res.Collections["invoices"])

	assert.Equal(t, src.all(t, "customers"), dst.all(t, "customers"))
	assert.Equal(t, src.all(t, "invoices"), dst.all(t, "invoices"))
}

func TestBackup_NamedCollections(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "customers", record.Record{"id": "c1"})
	env.seed(t, "invoices", record.Record{"id": "i1"})

	bundle, err := env.svc.Backup(context.Background(), []string{"invoices", "empty"})
	require.NoError(t, err)
	assert.Len(t, bundle.Collections, 2)
	assert.Len(t, bundle.Collections["invoices"], 1)
	assert.NotNil(t, bundle.Collections["empty"])
	assert.Empty(t, bundle.Collections["empty"])

	_, err = env.svc.Backup(context.Background(), []string{"bad name"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRestore_Modes(t *testing.T) {
	bundle := []byte(`{
		"version": "2.0.0",
		"exportedAt": "2026-01-01T00:00:00Z",
		"collections": {
			"customers": [
				{"id": "c1", "name": "Acme Updated"},
				{"id": "c3", "name": "Initech"}
			]
		}
	}`)

	t.Run("merge", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "customers",
			record.Record{"id": "c1", "name": "Acme", "phone": "555"},
			record.Record{"id": "c2", "name": "Globex"},
		)

		res, err := env.svc.Restore(context.Background(), bundle, RestoreMerge)
		require.NoError(t, err)
		assert.Equal(t, CollectionRestore{Inserted: 1, Updated: 1}, res.Collections["customers"])

		recs := env.all(t, "customers")
		require.Len(t, recs, 3)
		assert.Equal(t, record.Record{"id": "c1", "name": "Acme Updated", "phone": "555"}, recs[0])
		assert.Equal(t, "Globex", recs[1]["name"])
	})

	t.Run("replace", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "customers",
			record.Record{"id": "c1", "name": "Acme", "phone": "555"},
			record.Record{"id": "c2", "name": "Globex"},
		)

		res, err := env.svc.Restore(context.Background(), bundle, RestoreReplace)
		require.NoError(t, err)
		assert.Equal(t, CollectionRestore{Inserted: 2, Removed: 2}, res.Collections["customers"])

		recs := env.all(t, "customers")
		require.Len(t, recs, 2)
		assert.Equal(t, record.Record{"id": "c1", "name": "Acme Updated"}, recs[0])
		assert.Equal(t, "c3", recs[1].ID())
	})

	t.Run("unknown mode", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Restore(context.Background(), bundle, "append")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestRestore_RecordsWithoutIDGetOne(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Restore(context.Background(),
		[]byte(`{"version": "2.1.0", "collections": {"notes": [{"text": "hello"}]}}`), RestoreMerge)
	require.NoError(t, err)

	recs := env.all(t, "notes")
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID())
}

func TestParseBundle_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `version: 2`},
		{"array", `[]`},
		{"missing version", `{"collections": {}}`},
		{"empty version", `{"version": "", "collections": {}}`},
		{"numeric version", `{"version": 2, "collections": {}}`},
		{"old version", `{"version": "1.4.0", "collections": {}}`},
		{"missing collections", `{"version": "2.0.0"}`},
		{"collections array", `{"version": "2.0.0", "collections": []}`},
		{"collections null", `{"version": "2.0.0", "collections": null}`},
		{"records not array", `{"version": "2.0.0", "collections": {"a": {"id": "1"}}}`},
		{"bad collection name", `{"version": "2.0.0", "collections": {"a b": []}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBundle([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
			assert.Equal(t, "FMT002", MapError(err).Code)

			env := newTestEnv(t)
			_, err = env.svc.Restore(context.Background(), []byte(tt.data), RestoreReplace)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}
