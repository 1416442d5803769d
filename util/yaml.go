// Package util holds small file helpers shared by the configuration loader
// and the command line tool.
package util

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ReadYAMLInto reads data for the given io.ReadCloser - until it hits an error
// or reaches EOF - and attempts to unmarshal the data read into the given
// interface.
func ReadYAMLInto(r io.ReadCloser, data any) error {
	defer r.Close()
	bytes, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading yaml")
	}
	return errors.Wrap(UnmarshalYAMLStrict(bytes, data), "problem reading yaml")
}

// ReadFromYAMLFile unmarshals the YAML file at fn into data.
func ReadFromYAMLFile(fn string, data any) error {
	if _, err := os.Stat(fn); os.IsNotExist(err) {
		return errors.Errorf("file '%s' does not exist", fn)
	}

	file, err := os.Open(fn)
	if err != nil {
		return errors.Wrapf(err, "problem opening file %s", fn)
	}
	return ReadYAMLInto(file, data)
}

// UnmarshalYAMLStrict unmarshals in, failing on keys that are defined more
// than once.
func UnmarshalYAMLStrict(in []byte, out any) error {
	return yaml.UnmarshalStrict(in, out)
}
