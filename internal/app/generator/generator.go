package generator

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"text/template"

	"tether/internal/app/errors"
	"tether/internal/config"
	"tether/internal/config/logger"
)

const templatePath = "templates/tether.yaml.tmpl"

//go:embed templates/tether.yaml.tmpl
var templateFS embed.FS

// Options contains the values rendered into tether.yaml
type Options struct {
	ServiceName string
	Command     string
	Port        int
}

// DefaultOptions returns sensible defaults for generation
func DefaultOptions() Options {
	return Options{
		ServiceName: config.DefaultServiceName,
		Command:     "./server",
		Port:        config.DefaultPort,
	}
}

// Generator defines the interface for generating tether.yaml
type Generator interface {
	Generate(opts Options, path string, force bool, dryRun bool) error
}

type generator struct {
	out io.Writer
	log logger.Logger
}

// NewGenerator creates a new generator instance; dry runs print to stdout
func NewGenerator(log logger.Logger) Generator {
	return &generator{
		out: os.Stdout,
		log: log,
	}
}

// Generate renders the template to path, or to the output stream on a dry run
func (g *generator) Generate(opts Options, path string, force bool, dryRun bool) error {
	if path == "" {
		path = config.ConfigFile
	}

	if !dryRun && !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s, use --force to overwrite", errors.ErrConfigFileExists, path)
		}
	}

	tmplContent, err := templateFS.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	tmpl, err := template.New(config.ConfigFile).Parse(string(tmplContent))
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	if dryRun {
		_, err := g.out.Write(buf.Bytes())
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	g.log.Info().Msgf("Generated %s", path)

	return nil
}
