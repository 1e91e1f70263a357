package schemafs

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/usecase"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadAllSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "user_schema.json", `{"name": {"type": "string", "required": true}}`)
	writeFile(t, dir, "broken.json", "invalid json content")

	repo, err := NewRepository(dir, nil)
	require.NoError(t, err)

	schemas := slices.Collect(repo.LoadAll(context.Background()))
	require.Len(t, schemas, 1)
	assert.Equal(t, domain.Schema{
		Name:       "user_schema",
		Definition: domain.Definition{{Name: "name", Rules: domain.RuleSet{"type": "string", "required": true}}},
	}, schemas[0])
}

func TestLoadAllSkipsNonUTF8AndNonObjects(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "latin1.json", "{\"caf\xe9\": {}}")
	writeFile(t, dir, "array.json", `[1, 2, 3]`)
	writeFile(t, dir, "notes.txt", `{"ignored": {}}`)
	writeFile(t, dir, "ok.json", `{"id": {"type": "integer"}}`)

	repo, err := NewRepository(dir, nil)
	require.NoError(t, err)

	schemas := slices.Collect(repo.LoadAll(context.Background()))
	require.Len(t, schemas, 1)
	assert.Equal(t, "ok", schemas[0].Name)
}

func TestLoadAllKeepsFieldOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.json", `{"zeta": {}, "alpha": {"type": "string"}, "mid": {"min": 1}}`)
	writeFile(t, dir, "people.yaml", "surname:\n  type: string\nage:\n  type: integer\n  min: 0\nemail:\n  regex: '.+@.+'\n")

	repo, err := NewRepository(dir, nil)
	require.NoError(t, err)

	schemas := slices.Collect(repo.LoadAll(context.Background()))
	require.Len(t, schemas, 2)
	assert.Equal(t, "orders", schemas[0].Name)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, schemas[0].FieldNames())
	assert.Equal(t, "people", schemas[1].Name)
	assert.Equal(t, []string{"surname", "age", "email"}, schemas[1].FieldNames())
	age := schemas[1].Definition[1]
	assert.Equal(t, "age", age.Name)
	assert.Equal(t, 0, age.Rules["min"])
}

func TestSaveCreatesFileAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewRepository(dir, nil)
	require.NoError(t, err)

	order := domain.Schema{Name: "order", Definition: domain.Definition{
		{Name: "id", Rules: domain.RuleSet{"type": "integer"}},
		{Name: "amount", Rules: domain.RuleSet{"type": "float", "min": 0.0}},
	}}
	require.NoError(t, repo.Save(context.Background(), order))

	data, err := os.ReadFile(filepath.Join(dir, "order.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "integer")

	schemas := slices.Collect(repo.LoadAll(context.Background()))
	require.Len(t, schemas, 1)
	assert.Equal(t, order, schemas[0])
}

func TestSaveRejectsUnsafeName(t *testing.T) {
	repo, err := NewRepository(t.TempDir(), nil)
	require.NoError(t, err)

	err = repo.Save(context.Background(), domain.Schema{Name: "../escape"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestRegistryOverDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "user_schema.json", `{"name": {"type": "string", "required": true}}`)
	writeFile(t, dir, "broken.json", "invalid json content")

	repo, err := NewRepository(dir, nil)
	require.NoError(t, err)
	reg := usecase.NewSchemaRegistry(context.Background(), repo)
	assert.Equal(t, []string{"user_schema"}, reg.Names())

	payment := domain.Schema{Name: "payment", Definition: domain.Definition{{Name: "amount", Rules: domain.RuleSet{"type": "float"}}}}
	require.NoError(t, reg.Register(context.Background(), payment))

	got, ok := reg.Get("payment")
	require.True(t, ok)
	assert.Equal(t, payment.Definition, got.Definition)
	data, err := os.ReadFile(filepath.Join(dir, "payment.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "float")
}

func TestDecodeDefinitionByExtension(t *testing.T) {
	def, err := DecodeDefinition("x.yml", []byte("b: {type: integer}\na: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, def.Keys())

	def, err = DecodeDefinition("x.JSON", []byte(`{"b": {}, "a": {"type": "string"}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, def.Keys())

	_, err = DecodeDefinition("x.toml", []byte(`a = 1`))
	assert.Error(t, err)
}
