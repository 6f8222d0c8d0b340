package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"

	"github.com/machp/machp/pkg/macho"
)

const version = "1.0.0"

const usage = `machp - Mach-O binary inspector

Decodes Mach-O executables, dylibs and fat archives into a JSON report:
architecture slices, load commands, segments and sections, symbol tables,
referenced dynamic libraries and embedded code-signing information.

Usage:
  machp <path> [--recursive] [--output=<dir>] [--debug]
  machp -h | --help
  machp --version

Options:
  -r --recursive      Walk <path> recursively and inspect every Mach-O file
  --output=<dir>      Write one <sha256>.json per decoded slice into <dir>
                      instead of printing to standard output
  --debug             Enable debug logging
  -h --help           Show this help message
  --version           Show version

Examples:
  # Inspect a single binary
  machp /usr/bin/true

  # Inspect an app bundle, one report file per slice
  machp MyApp.app --recursive --output=reports/
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	path, _ := opts.String("<path>")
	recursive, _ := opts.Bool("--recursive")
	outputDir, _ := opts.String("--output")
	debug, _ := opts.Bool("--debug")

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(path, recursive, outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, recursive bool, outputDir string) error {
	files, err := collectFiles(path, recursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no Mach-O files found under %s", path)
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Files are independent; the decoding pipeline is reentrant, so fan
	// out across cores. Stdout writes are serialized.
	var stdoutMu sync.Mutex
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, file := range files {
		file := file
		g.Go(func() error {
			log.Debugf("parsing %s", file)
			report, err := macho.ParseFile(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing file %s: %v\n", file, err)
				failed.Add(1)
				return nil
			}
			if err := emit(report, outputDir, &stdoutMu); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing file %s: %v\n", file, err)
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(files))
	}
	return nil
}

// collectFiles resolves the input path to the list of files to inspect. In
// recursive mode every regular file carrying a Mach-O or fat magic is
// included; otherwise the path itself is the single input.
func collectFiles(path string, recursive bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return []string{path}, nil
	}
	if !recursive {
		return nil, fmt.Errorf("%s is a directory (use --recursive)", path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isMachO(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// isMachO probes the first four bytes for a thin or fat magic.
func isMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}

	return (magic[0] == 0xcf && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) || // MH_MAGIC_64
		(magic[0] == 0xfe && magic[1] == 0xed && magic[2] == 0xfa && magic[3] == 0xcf) || // MH_CIGAM_64
		(magic[0] == 0xce && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) || // MH_MAGIC
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbe) || // FAT_MAGIC
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbf) // FAT_MAGIC_64
}

// emit writes the report: pretty JSON to stdout, or one file per decoded
// slice named by the slice SHA-256 when an output directory is set.
func emit(report *macho.Report, outputDir string, stdoutMu *sync.Mutex) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	if outputDir == "" {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		_, err := fmt.Printf("%s\n", data)
		return err
	}

	slices := report.Slices
	if report.HeaderSlice != nil {
		slices = append(slices, report.HeaderSlice)
	}
	for _, slice := range slices {
		name := filepath.Join(outputDir, slice.SHA256+".json")
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		log.Debugf("wrote %s", name)
	}
	return nil
}
