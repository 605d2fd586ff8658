package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/linktally/pkg/config"
	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
)

func seed(t *testing.T, dbURL string) {
	t.Helper()
	repo, err := sqlite.NewSQLiteRepository(dbURL)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	kept := domain.NewLink("abc123", "docs", "https://example.com/docs", domain.Int64(10), now)
	require.NoError(t, repo.Insert(ctx, kept))
	_, err = repo.RecordVisit(ctx, domain.Visit{Identifier: "docs", ClientID: "10.0.0.1", At: now})
	require.NoError(t, err)

	gone := domain.NewLink("zzz999", "", "https://example.com/old", nil, now)
	require.NoError(t, repo.Insert(ctx, gone))
	_, err = repo.Deactivate(ctx, "zzz999")
	require.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			src := "file:" + filepath.Join(dir, "src.sqlite")
			dst := "file:" + filepath.Join(dir, "dst.sqlite")
			seed(t, src)

			ctx := context.Background()
			cfg := &config.Config{DatabaseURL: src}

			var out bytes.Buffer
			require.NoError(t, run(ctx, cfg, zerolog.Nop(), "export", []string{"-format", format}, &out))

			file := filepath.Join(dir, "links."+format)
			require.NoError(t, os.WriteFile(file, out.Bytes(), 0o600))
			require.NoError(t, run(ctx, cfg, zerolog.Nop(), "import", []string{"-db", dst, "-file", file}, &out))

			repo, err := sqlite.NewSQLiteRepository(dst)
			require.NoError(t, err)
			defer repo.Close()

			links, err := repo.Dump(ctx)
			require.NoError(t, err)
			require.Len(t, links, 2)

			assert.Equal(t, "docs", links[0].Alias)
			assert.Equal(t, int64(1), links[0].Stats.AccessCount)
			assert.Equal(t, []string{"10.0.0.1"}, links[0].Stats.AccessedFrom)
			require.NotNil(t, links[0].RequestLimit)
			assert.Equal(t, int64(10), *links[0].RequestLimit)
			assert.Equal(t, domain.StatusDeleted, links[1].Status)

			// Second import skips everything.
			n, err := doImport(ctx, repo, file, zerolog.Nop())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestExportJSONShape(t *testing.T) {
	src := "file:" + filepath.Join(t.TempDir(), "src.sqlite")
	seed(t, src)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &config.Config{DatabaseURL: src}, zerolog.Nop(), "export", nil, &out))

	var links []domain.Link
	require.NoError(t, json.Unmarshal(out.Bytes(), &links))
	require.Len(t, links, 2)
	assert.Equal(t, "abc123", links[0].Code)
	assert.Equal(t, "zzz999", links[1].Alias)
}

func TestStatsCommand(t *testing.T) {
	src := "file:" + filepath.Join(t.TempDir(), "src.sqlite")
	seed(t, src)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &config.Config{DatabaseURL: src}, zerolog.Nop(), "stats", nil, &out))

	assert.Contains(t, out.String(), "docs")
	assert.Contains(t, out.String(), "https://example.com/docs")
	assert.NotContains(t, out.String(), "zzz999")
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), &config.Config{DatabaseURL: "memory"}, zerolog.Nop(), "frobnicate", nil, &bytes.Buffer{})
	assert.Error(t, err)

	err = run(context.Background(), &config.Config{DatabaseURL: "memory"}, zerolog.Nop(), "export", []string{"-format", "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")
}

func TestImportValidatesRecords(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "links.json")
	require.NoError(t, os.WriteFile(file, []byte(`[
		{"code":"bad001","alias":"bad alias!","long_url":"ftp://x"},
		{"code":"ok0001","alias":"fine","long_url":"https://example.com",
		 "stats":{"access_count":1,"unique_users":7,"accessed_from":["1.1.1.1","1.1.1.1"]}}
	]`), 0o600))

	repo, err := sqlite.NewSQLiteRepository("file:" + filepath.Join(dir, "dst.sqlite"))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	n, err := doImport(ctx, repo, file, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := repo.Exists(ctx, "bad001")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := repo.FindByIdentifier(ctx, "fine")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1"}, got.Stats.AccessedFrom)
	assert.Equal(t, int64(1), got.Stats.UniqueUsers)
	assert.Equal(t, int64(1), got.Stats.AccessCount)
	assert.Equal(t, domain.StatusActive, got.Status)
}
