// Package configutils loads layered sampler configuration files into viper.
package configutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// ImportKey names the list of files a configuration file builds on. A shared
// engine/scorer file can be imported by several per-experiment files.
var ImportKey = "imports"

// ResolveAndMergeFile reads filePath, resolves its imports depth-first and
// merges everything into v. Imported files are merged before the files that
// import them, so the importing file wins on conflicts.
func ResolveAndMergeFile(v *viper.Viper, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return errors.New("configuration file has no extension")
	}
	if !slices.Contains(viper.SupportedExts, ext[1:]) {
		return fmt.Errorf("unsupported configuration file extension: %s", ext)
	}

	v.SetConfigType(ext[1:])
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	ordered := []string{}
	visited := map[string]struct{}{}
	if err := collectImports(v, &ordered, visited); err != nil {
		return fmt.Errorf("could not resolve configuration imports: %w", err)
	}
	ordered = append(ordered, v.ConfigFileUsed())

	for _, path := range ordered {
		if err := mergeConfigFile(v, path); err != nil {
			return fmt.Errorf("merging config %s: %w", path, err)
		}
	}
	return nil
}

// collectImports appends imports in post-order; visited guards against cycles.
func collectImports(v *viper.Viper, ordered *[]string, visited map[string]struct{}) error {
	for _, imp := range v.GetStringSlice(ImportKey) {
		if imp == "" {
			continue
		}

		path := filepath.Clean(imp)
		if !filepath.IsAbs(imp) {
			path = filepath.Join(filepath.Dir(v.ConfigFileUsed()), imp)
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		if _, seen := visited[path]; seen {
			continue
		}
		visited[path] = struct{}{}

		child := viper.New()
		child.SetConfigFile(path)
		if err := child.ReadInConfig(); err != nil {
			return err
		}
		if err := collectImports(child, ordered, visited); err != nil {
			return err
		}
		*ordered = append(*ordered, path)
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, filePath string) error {
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return v.MergeConfig(r)
}

// BindEnvsRecursive binds every mapstructure-tagged field of the struct
// pointed to by iface (nested structs included) to its environment variable,
// so v.Unmarshal sees environment overrides for keys absent from the file.
// Nil struct pointers are allocated along the way.
func BindEnvsRecursive(v *viper.Viper, iface interface{}, path string) error {
	val := reflect.ValueOf(iface).Elem()
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" || strings.HasPrefix(tag, ",") {
			continue
		}

		fullPath := tag
		if path != "" {
			fullPath = path + "." + tag
		}

		field := val.Field(i)
		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			field = field.Elem()
		}

		if field.Kind() == reflect.Struct {
			if err := BindEnvsRecursive(v, field.Addr().Interface(), fullPath); err != nil {
				return err
			}
			continue
		}

		if err := v.BindEnv(fullPath); err != nil {
			return fmt.Errorf("failed to bind environment variable: %w", err)
		}
	}
	return nil
}
