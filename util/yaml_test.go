package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalYAMLStrict(t *testing.T) {
	smallYml := `
top_level:
    field: first
    field: duplicated
`

	type SmallStruct struct {
		TopLevel map[string]string `yaml:"top_level"`
		SomeList []string          `yaml:"some_list"`
	}
	// duplicate map items should error
	var myStruct SmallStruct
	err := UnmarshalYAMLStrict([]byte(smallYml), &myStruct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already set")

	// duplicate lists should error
	smallYml = `
some_list:
  - my item
some_list:
  - my other item
`
	err = UnmarshalYAMLStrict([]byte(smallYml), &myStruct)
	require.Error(t, err)

	smallYml = `
top_level:
    field: first
some_list:
  - one
`
	require.NoError(t, UnmarshalYAMLStrict([]byte(smallYml), &myStruct))
	assert.Equal(t, "first", myStruct.TopLevel["field"])
	assert.Equal(t, []string{"one"}, myStruct.SomeList)
}

func TestReadFromYAMLFile(t *testing.T) {
	out := map[string]any{}
	err := ReadFromYAMLFile(filepath.Join(t.TempDir(), "missing.yml"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	fn := filepath.Join(t.TempDir(), "conf.yml")
	require.NoError(t, os.WriteFile(fn, []byte("database: test\nretries: 3\n"), 0600))
	require.NoError(t, ReadFromYAMLFile(fn, &out))
	assert.Equal(t, "test", out["database"])
	assert.Equal(t, 3, out["retries"])
}
