package export

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLExporter writes YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(t *Transcript, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (e *YAMLExporter) Extension() string { return "yaml" }
