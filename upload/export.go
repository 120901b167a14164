package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/command"
)

// OutputExporter exposes values for subsequent steps.
// Regular env vars are isolated between steps, so successful uploads expose
// the media URL through this instead of os.Setenv.
type OutputExporter interface {
	ExportOutput(key, value string) error
	ExportOutputFile(key, sourcePath, destinationPath string) error
}

type envmanExporter struct {
	cmdFactory command.Factory
}

// NewEnvmanExporter creates an OutputExporter backed by envman.
func NewEnvmanExporter(cmdFactory command.Factory) OutputExporter {
	return envmanExporter{cmdFactory: cmdFactory}
}

func (e envmanExporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run envman: %w", err)
	}
	return nil
}

// ExportOutputFile copies sourcePath to destinationPath and exports the
// absolute destination path under key.
func (e envmanExporter) ExportOutputFile(key, sourcePath, destinationPath string) error {
	absSourcePath, err := filepath.Abs(sourcePath)
	if err != nil {
		return err
	}
	absDestinationPath, err := filepath.Abs(destinationPath)
	if err != nil {
		return err
	}

	if absSourcePath != absDestinationPath {
		if err := copyFile(absSourcePath, absDestinationPath); err != nil {
			return err
		}
	}

	return e.ExportOutput(key, absDestinationPath)
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(destination)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return out.Close()
}
