package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"affected/internal/errors"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatHuman OutputFormat = "human"
	FormatList  OutputFormat = "list"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTOML  OutputFormat = "toml"
)

// outputFormat returns the --format value, or fallback when it is unset.
// On a terminal the fallback is always human.
func outputFormat(fallback OutputFormat) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(formatFlag)); f {
	case "":
		if stdoutIsTerminal() {
			return FormatHuman, nil
		}
		return fallback, nil
	case FormatHuman, FormatList, FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	default:
		return "", errors.Newf(errors.InvalidInput, "unsupported format %q (want human, list, json, yaml or toml)", formatFlag)
	}
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeResponse writes v in a structured format. The human and list formats
// are handled by the callers, which know the shape of v.
func writeResponse(w io.Writer, v interface{}, format OutputFormat) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(v, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case FormatYAML:
		data, err = yaml.Marshal(v)
	case FormatTOML:
		data, err = toml.Marshal(v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return errors.New(errors.InternalError, fmt.Sprintf("failed to encode %s output", format), err)
	}
	_, err = w.Write(data)
	return err
}

// rule is the horizontal line under human output headings.
var rule = strings.Repeat("─", 58)
