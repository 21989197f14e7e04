package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/clickable/internal/clickerr"
)

// ProjectFileNames are tried in order when no config path is given.
var ProjectFileNames = []string{"clickable.yaml", "clickable.yml", "clickable.json"}

// EnvFileName is read from the project root, if present, as a lower priority
// source of environment variables.
const EnvFileName = ".clickable.env"

// LoadProjectFile reads the project file. When explicit is empty the
// ProjectFileNames are tried in root and a missing file yields an empty
// File; an explicit path that does not exist is an error.
func LoadProjectFile(root, explicit string) (*File, string, error) {
	path := explicit
	if path == "" {
		for _, name := range ProjectFileNames {
			candidate := filepath.Join(root, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return &File{}, "", nil
		}
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, path, clickerr.File(path, nil, "specified config file does not exist")
		}
		return nil, path, clickerr.File(path, err, "failed reading project config")
	}

	file, err := DecodeProject(path, data)
	if err != nil {
		return nil, path, err
	}
	return file, path, nil
}

// DecodeProject validates and decodes a project file. The format follows the
// file extension; JSON may contain comments and trailing commas.
func DecodeProject(path string, data []byte) (*File, error) {
	var file File
	if isJSON(path) {
		stripped := jsonc.ToJSON(data)
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(stripped, &keys); err != nil {
			return nil, clickerr.File(path, err, "not a valid json file")
		}
		if err := checkRemoved(path, mapKeys(keys)); err != nil {
			return nil, err
		}

		decoder := json.NewDecoder(bytes.NewReader(stripped))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return nil, clickerr.File(path, err, "invalid project config")
		}
		return &file, nil
	}

	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, clickerr.File(path, err, "not a valid yaml file")
	}
	if err := checkRemoved(path, mapKeys(keys)); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, clickerr.File(path, err, "invalid project config")
	}
	return &file, nil
}

// LoadGlobalFile reads the user level config. A missing default file yields
// an empty GlobalFile.
func LoadGlobalFile(path string, explicit bool) (*GlobalFile, error) {
	var file GlobalFile
	if path == "" {
		return &file, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return &file, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, clickerr.File(path, nil, "specified clickable config file does not exist")
		}
		return nil, clickerr.File(path, err, "failed reading clickable config")
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, clickerr.File(path, err, "invalid clickable config")
	}
	return &file, nil
}

// ReadEnvFile returns the variables of root/.clickable.env, or nil when the
// file does not exist. The process environment is left untouched.
func ReadEnvFile(root string) (map[string]string, error) {
	path := filepath.Join(root, EnvFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, clickerr.File(path, err, "invalid env file")
	}
	return values, nil
}

func checkRemoved(path string, keys []string) error {
	for _, key := range removedKeywords {
		if slices.Contains(keys, key) {
			return &clickerr.Error{
				Kind:    clickerr.Configuration,
				Path:    path,
				Key:     key,
				Message: "is no longer a valid configuration option",
				Hint:    removedHints[key],
			}
		}
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	return out
}
