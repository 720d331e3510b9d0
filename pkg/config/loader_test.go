package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
engine:
  adminPort: 2600
  injection:
    allow: true
    timeout: 5s
  log:
    level: debug
imposters:
  - port: 4545
    name: orders
    stubs:
      - predicates:
          - equals: {path: /health}
        responses:
          - is: {statusCode: 200, body: ok}
      - responses:
          - proxy:
              to: https://api.example.com
              mode: proxyAlways
              addWaitBehavior: true
              predicateGenerators:
                - matches: {method: true, path: true}
`

const sampleJSON = `{
  "imposters": [
    {
      "port": 4546,
      "stubs": [
        {"responses": [{"inject": "{\"body\": request.path}"}, {"is": {"statusCode": 204}}]}
      ]
    }
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "imposters.yaml", sampleYAML)

	f, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2600, f.Engine.AdminPortOrDefault())
	assert.True(t, f.Engine.SandboxConfig().AllowInjection)
	require.Len(t, f.Imposters, 1)

	imp := f.Imposters[0]
	assert.Equal(t, "http", imp.ProtocolName())
	require.Len(t, imp.Stubs, 2)
	assert.Equal(t, "/health", imp.Stubs[0].Predicates[0].Equals["path"])
	assert.Equal(t, 200, imp.Stubs[0].Responses[0].Is["statusCode"])

	p := imp.Stubs[1].Responses[0].Proxy
	require.NotNil(t, p)
	assert.Equal(t, imposter.ProxyAlways, p.Mode)
	assert.True(t, p.AddWaitBehavior)
	assert.Equal(t, true, p.PredicateGenerators[0].Matches["path"])
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "imposters.json", sampleJSON)

	f, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAdminPort, f.Engine.AdminPortOrDefault())
	require.Len(t, f.Imposters[0].Stubs[0].Responses, 2)
	assert.Equal(t, `{"body": request.path}`, f.Imposters[0].Stubs[0].Responses[0].Inject)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = LoadFromFile(writeFile(t, dir, "empty.json", ""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = LoadFromFile(writeFile(t, dir, "bad.json", "{nope"))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = LoadFromFile(writeFile(t, dir, "bad.yaml", "imposters: [\n"))
	assert.ErrorIs(t, err, ErrInvalidYAML)

	_, err = LoadFromFile(dir)
	assert.Error(t, err)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", sampleYAML)
	writeFile(t, dir, "b.json", sampleJSON)
	writeFile(t, dir, "notes.txt", "ignored")

	f, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, f.Imposters, 2)
	assert.Equal(t, 4545, f.Imposters[0].Port)
	assert.Equal(t, 4546, f.Imposters[1].Port)
	assert.Equal(t, 2600, f.Engine.AdminPort)
}

func TestLoad_DirectoryDuplicatePorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", sampleJSON)
	writeFile(t, dir, "b.json", sampleJSON)

	_, err := Load(dir)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "imposters[1].port", ve.Field)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)

	for _, name := range []string{"out.yaml", "nested/out.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveToFile(path, f))

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			require.Len(t, loaded.Imposters, 1)
			assert.Len(t, loaded.Imposters[0].Stubs, 2)
			assert.Equal(t, imposter.ProxyAlways, loaded.Imposters[0].Stubs[1].Responses[0].Proxy.Mode)

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSaveToFile_Nil(t *testing.T) {
	assert.Error(t, SaveToFile(filepath.Join(t.TempDir(), "x.json"), nil))
}

func TestLoad_ExampleConfig(t *testing.T) {
	f, err := Load(filepath.Join("..", "..", "examples", "with-config-file", "imposters.yaml"))
	require.NoError(t, err)
	require.Len(t, f.Imposters, 2)
	assert.Equal(t, 2525, f.Engine.AdminPort)
	assert.Len(t, f.Imposters[0].Stubs[0].Responses, 2)
}
