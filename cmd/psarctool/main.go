// Package main provides a command-line tool for packing, extracting,
// and incrementally repacking PSARC archives.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/goopsie/psarc/pkg/psarc"
)

var (
	mode           string
	archivePath    string
	inputDir       string
	outputDir      string
	priorArchive   string
	modifiedList   string
	snapshotPath   string
	level          string
	incremental    bool
	forceOverwrite bool
	quiet          bool

	logger = logrus.New()
)

func init() {
	flag.StringVar(&mode, "mode", "", "Operation mode: pack, extract")
	flag.StringVar(&archivePath, "archive", "", "Archive path (input for extract, output for pack)")
	flag.StringVar(&inputDir, "input", "", "Input directory for pack mode")
	flag.StringVar(&outputDir, "output", "", "Output directory for extract mode")
	flag.StringVar(&priorArchive, "prior", "", "Prior archive to reuse unchanged blocks from (incremental pack)")
	flag.StringVar(&modifiedList, "modified", "", "Comma-separated archive-internal paths to force recompress")
	flag.StringVar(&snapshotPath, "snapshot", "", "Path to a pack snapshot for auto-detecting modified files (incremental pack)")
	flag.StringVar(&level, "level", "default", "Compression level: none, fast, default, best")
	flag.BoolVar(&incremental, "incremental", false, "Incremental pack mode (requires -prior)")
	flag.BoolVar(&forceOverwrite, "force", false, "Allow overwriting an existing archive or non-empty output directory")
	flag.BoolVar(&quiet, "quiet", false, "Suppress progress output")
}

func main() {
	flag.Parse()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validateFlags(); err != nil {
		flag.Usage()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	switch mode {
	case "pack":
		return runPack(ctx)
	case "extract":
		return runExtract(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func validateFlags() error {
	if mode == "" {
		return fmt.Errorf("mode is required")
	}
	if archivePath == "" {
		return fmt.Errorf("-archive is required")
	}

	switch mode {
	case "pack":
		if inputDir == "" {
			return fmt.Errorf("pack mode requires -input")
		}
		if incremental && priorArchive == "" {
			return fmt.Errorf("-incremental requires -prior")
		}
		if !forceOverwrite {
			if _, err := os.Stat(archivePath); err == nil {
				return fmt.Errorf("archive %s already exists (use -force to overwrite)", archivePath)
			}
		}
	case "extract":
		if outputDir == "" {
			return fmt.Errorf("extract mode requires -output")
		}
		if !forceOverwrite {
			empty, err := isDirEmptyOrAbsent(outputDir)
			if err != nil {
				return fmt.Errorf("check output directory: %w", err)
			}
			if !empty {
				return fmt.Errorf("output directory %s is not empty (use -force to override)", outputDir)
			}
		}
	default:
		return fmt.Errorf("mode must be 'pack' or 'extract'")
	}

	return nil
}

func isDirEmptyOrAbsent(path string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdir(1)
	return err == io.EOF, nil
}

func parseLevel(s string) (psarc.CompressionLevel, error) {
	switch strings.ToLower(s) {
	case "none":
		return psarc.CompressionNone, nil
	case "fast":
		return psarc.CompressionFast, nil
	case "default", "":
		return psarc.CompressionDefault, nil
	case "best":
		return psarc.CompressionBest, nil
	default:
		return 0, fmt.Errorf("unknown compression level %q", s)
	}
}

func parseModified(s string) map[string]struct{} {
	if s == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

func runPack(ctx context.Context) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	mode := psarc.ModeFull
	if incremental {
		mode = psarc.ModeIncremental
	}

	progress := make(chan psarc.PackStatus, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderPackProgress(progress)
	}()

	result, err := psarc.Pack(ctx, psarc.PackOptions{
		Root:         inputDir,
		Output:       archivePath,
		Level:        lvl,
		Mode:         mode,
		Modified:     parseModified(modifiedList),
		Prior:        priorArchive,
		Progress:     progress,
		Logger:       logger,
		SnapshotPath: snapshotPath,
	})
	close(progress)
	wg.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("Packed %s: %d recompressed, %d reused from %s\n", archivePath, result.Recompressed, result.Reused, priorArchive)
	return nil
}

func runExtract(ctx context.Context) error {
	progress := make(chan psarc.ExtractStatus, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderExtractProgress(progress)
	}()

	result, err := psarc.Extract(ctx, psarc.ExtractOptions{
		Archive:  archivePath,
		Output:   outputDir,
		Progress: progress,
	})
	close(progress)
	wg.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("Extracted %d files to %s (%d unresolved names)\n", result.Written, outputDir, result.Unknowns)
	return nil
}

func renderPackProgress(ch <-chan psarc.PackStatus) {
	if quiet {
		for range ch {
		}
		return
	}

	p := mpb.New(mpb.WithWidth(60))
	var bar *mpb.Bar
	for s := range ch {
		if s.Err != nil {
			logger.Errorf("pack failed: %v", s.Err)
			continue
		}
		if bar == nil {
			bar = p.New(100,
				mpb.BarStyle().Rbound("|"),
				mpb.PrependDecorators(decor.Name("packing ")),
				mpb.AppendDecorators(decor.Percentage(), decor.Name(" "), decor.Name(s.CurrentFile)),
			)
		}
		bar.SetCurrent(int64(s.Progress * 100))
		if !s.Active {
			bar.SetCurrent(100)
		}
	}
	p.Wait()
}

func renderExtractProgress(ch <-chan psarc.ExtractStatus) {
	if quiet {
		for range ch {
		}
		return
	}

	p := mpb.New(mpb.WithWidth(60))
	var bar *mpb.Bar
	for s := range ch {
		if s.Err != nil {
			logger.Errorf("extract failed: %v", s.Err)
			continue
		}
		if bar == nil {
			bar = p.New(100,
				mpb.BarStyle().Rbound("|"),
				mpb.PrependDecorators(decor.Name("extracting ")),
				mpb.AppendDecorators(decor.Percentage(), decor.Name(" "), decor.Name(s.CurrentFile)),
			)
		}
		bar.SetCurrent(int64(s.Progress * 100))
		if !s.Active {
			bar.SetCurrent(100)
		}
	}
	p.Wait()
}
