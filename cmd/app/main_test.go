package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestParseMappings(t *testing.T) {
	mapping, err := parseMappings([]string{"Customer Name=customer", "a=b=c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Customer Name": "customer", "a=b": "c"}, mapping)

	for _, bad := range []string{"nofield", "=field", "column="} {
		_, err := parseMappings([]string{bad})
		assert.Error(t, err, bad)
	}
}

type cliEnv struct {
	uploads string
	schemas string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	root := t.TempDir()
	env := cliEnv{uploads: filepath.Join(root, "uploads"), schemas: filepath.Join(root, "schemas")}
	require.NoError(t, os.MkdirAll(env.uploads, 0o755))
	require.NoError(t, os.MkdirAll(env.schemas, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.uploads, "orders.csv"),
		[]byte("Customer Name,Amount,Country\nalice,10,NO\nbob,20,SE\ncarol,-5,DE\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.schemas, "orders.json"),
		[]byte(`{"customer_name": {"type": "string"}, "amount": {"type": "float", "min": 0}}`), 0o644))
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand(&out)
	cmd.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	full := append([]string{"csvschema", "--upload-dir", e.uploads, "--schema-dir", e.schemas, "--log-level", "error"}, args...)
	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func TestSchemasListAndRegister(t *testing.T) {
	env := newCLIEnv(t)
	def := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(def, []byte("id:\n  type: integer\nemail:\n  regex: '.+@.+'\n"), 0o644))

	out, err := env.run(t, "schemas", "register", def)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"contacts","fields":["id","email"]}`, out)

	out, err = env.run(t, "schemas", "list")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.ElementsMatch(t, []string{"orders", "contacts"}, names)
}

func TestInspectAndRecommend(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "inspect", "--schema", "orders", "orders.csv")
	require.NoError(t, err)
	var inspection map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &inspection))
	assert.Equal(t, 1.0, inspection["score"])

	out, err = env.run(t, "recommend", "orders.csv")
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"orders.csv","schema":"orders"}`, out)
}

func TestValidateCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "validate", "--schema", "orders", "--map", "Customer Name=customer_name", "orders.csv")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp["errors"])

	out, err = env.run(t, "validate", "--schema", "orders", "--map", "Amount=amount", "orders.csv")
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp["errors"], 1)
}

func TestCommandsRequireSource(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "inspect")
	assert.Error(t, err)
}
