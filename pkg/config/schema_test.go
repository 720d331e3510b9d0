package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Compiles(t *testing.T) {
	_, err := compileSchema()
	require.NoError(t, err)
	assert.NotEmpty(t, Schema())
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "port must be a number",
			yaml:  "imposters:\n  - port: \"4545\"\n",
			field: "imposters[0].port",
		},
		{
			name:  "port is required",
			yaml:  "imposters:\n  - name: orders\n",
			field: "imposters[0]",
		},
		{
			name:  "proxy needs a destination",
			yaml:  "imposters:\n  - port: 4545\n    stubs:\n      - responses:\n          - proxy: {mode: proxyOnce}\n",
			field: "imposters[0].stubs[0].responses[0].proxy",
		},
		{
			name:  "inject must be source text",
			yaml:  "imposters:\n  - port: 4545\n    stubs:\n      - responses:\n          - inject: {body: x}\n",
			field: "imposters[0].stubs[0].responses[0].inject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestParseJSON_SchemaViolation(t *testing.T) {
	_, err := ParseJSON([]byte(`{"imposters": [{"port": 4545, "recordMatches": "yes"}]}`))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "imposters[0].recordMatches", ve.Field)
}

func TestPointerField(t *testing.T) {
	assert.Equal(t, "", pointerField(""))
	assert.Equal(t, "engine.adminPort", pointerField("/engine/adminPort"))
	assert.Equal(t, "imposters[2].stubs[0]", pointerField("/imposters/2/stubs/0"))
	assert.Equal(t, "a/b", pointerField("/a~1b"))
}

func TestLoad_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", sampleYAML)
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, sub, "b.json", sampleJSON)
	writeFile(t, dir, "c.txt", "ignored")

	f, err := Load(filepath.Join(dir, "**", "*.{json,yaml}"))

	require.NoError(t, err)
	require.Len(t, f.Imposters, 2)
	assert.Equal(t, 2600, f.Engine.AdminPort)
}

func TestLoad_GlobNoMatches(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "*.yaml"))

	assert.ErrorIs(t, err, ErrFileNotFound)
}
