/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package datasources

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/rowmodel/core/columns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoDataDir(t *testing.T) string {
	t.Helper()
	_, currentFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "failed to get current file path")
	return filepath.Join(filepath.Dir(currentFile), "..", "demo", "data")
}

func TestManagerLoadConfig(t *testing.T) {
	manager := NewManager(nil)
	require.NoError(t, manager.LoadConfig(filepath.Join(demoDataDir(t), "data_sources.yaml")))

	// Annotations and sources are registered eagerly, data is not loaded.
	require.NotNil(t, manager.GetAnnotations("olympics.medals"))
	assert.Equal(t, []string{"medals", "medals_json"}, manager.GetSourceNames())
	assert.False(t, manager.IsLoaded("medals"))

	table, err := manager.LoadData(context.Background(), "medals")
	require.NoError(t, err)
	assert.Len(t, table.Records, 30)
	assert.True(t, manager.IsLoaded("medals"))

	// Annotations were applied.
	total, ok := table.Columns.Get("total")
	require.True(t, ok)
	assert.Equal(t, "Total Medals", total.DisplayName())
	assert.Equal(t, "sum", total.AggFunc)
	year, _ := table.Columns.Get("year")
	assert.Equal(t, columns.TypeString, year.Type)

	// Cached.
	again, err := manager.LoadData(context.Background(), "medals")
	require.NoError(t, err)
	assert.Same(t, table, again)

	manager.InvalidateCache("medals")
	assert.False(t, manager.IsLoaded("medals"))
	assert.Empty(t, manager.GetLoadedSources())
}

func TestManagerJSONSource(t *testing.T) {
	manager := NewManager(nil)
	require.NoError(t, manager.LoadConfig(filepath.Join(demoDataDir(t), "data_sources.yaml")))

	table, err := manager.LoadData(context.Background(), "medals_json")
	require.NoError(t, err)
	require.Len(t, table.Records, 3)
	assert.Equal(t, int64(2008), table.Records[0]["year"])
	assert.Equal(t, []string{"athlete", "country", "sport", "total", "year"}, table.Columns.IDs())
}

func TestManagerUnknownSource(t *testing.T) {
	manager := NewManager(nil)
	_, err := manager.LoadData(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	manager.AddSource(&DataSource{Name: "odd", SourceType: "parquet"})
	_, err = manager.LoadData(context.Background(), "odd")
	assert.ErrorContains(t, err, "no loader registered")
}

func TestManagerRowSource(t *testing.T) {
	dir := t.TempDir()
	dbPath := createMedalsDB(t)
	config := "sources:\n" +
		"  - name: db\n    source_type: sqlite\n    config:\n      file_path: " + dbPath + "\n      table: medals\n" +
		"  - name: csv\n    source_type: csv\n    config:\n      file_path: medals.csv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "medals.csv"), []byte("athlete,medals\nA,3\nB,2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.yaml"), []byte(config), 0o600))

	manager := NewManager(nil)
	t.Cleanup(func() { _ = manager.Close() })
	require.NoError(t, manager.LoadConfig(filepath.Join(dir, "sources.yaml")))

	ctx := context.Background()
	db, err := manager.RowSource(ctx, "db", MemoryOptions{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSource{}, db)
	same, err := manager.RowSource(ctx, "db", MemoryOptions{})
	require.NoError(t, err)
	assert.Same(t, db, same)

	mem, err := manager.RowSource(ctx, "csv", MemoryOptions{})
	require.NoError(t, err)
	res, err := fetch(t, mem, ctx, NewRequest(1, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, athletes(res))
}

func TestManagerResolveURL(t *testing.T) {
	manager := NewManager(nil)
	require.NoError(t, manager.LoadConfig(filepath.Join(demoDataDir(t), "data_sources.yaml")))

	assert.Equal(t, "https://en.wikipedia.org/wiki/Usain%20Bolt", manager.ResolveURL("medals", "athlete", "Usain Bolt"))
	assert.Empty(t, manager.ResolveURL("medals", "country", "Jamaica"))
	assert.Empty(t, manager.ResolveURL("nope", "athlete", "x"))
	assert.Equal(t, "https://en.wikipedia.org/wiki/A%2FB", manager.Linker("medals")("athlete", "A/B"))
}

func TestLoadJSON(t *testing.T) {
	records, err := LoadJSON(strings.NewReader(`[{"a": 1, "b": {"c": 2.5}}, {"a": null}]`), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0]["a"])
	assert.Equal(t, 2.5, records[0]["b"].(map[string]any)["c"])
	assert.Nil(t, records[1]["a"])

	_, err = LoadJSON(strings.NewReader(`{"a": 1}`), "")
	assert.Error(t, err)
	_, err = LoadJSON(strings.NewReader(`[1, 2]`), "")
	assert.Error(t, err)
	_, err = LoadJSON(strings.NewReader(`{"data": []}`), "$.rows")
	assert.Error(t, err)
}

func TestCsvLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;b\n1;x\n2;y\n"), 0o600))

	table, err := NewCsvLoader().Load(context.Background(), map[string]string{"file_path": path, "delimiter": ";"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, table.Columns.IDs())
	assert.Equal(t, int64(2), table.Records[1]["a"])
	assert.True(t, IsCSV(path))
	assert.False(t, IsCSV("t.json"))
}
