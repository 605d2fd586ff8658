package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/wadjakorntonsri/linktally/pkg/adapters/repository"
	"github.com/wadjakorntonsri/linktally/pkg/config"
	"github.com/wadjakorntonsri/linktally/pkg/core/domain"
	"github.com/wadjakorntonsri/linktally/pkg/core/services"
	"github.com/wadjakorntonsri/linktally/pkg/logger"
	"github.com/wadjakorntonsri/linktally/pkg/ports"
)

const usage = "expected 'export', 'import' or 'stats' subcommands"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err := run(context.Background(), cfg, log, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	dbURL := fs.String("db", cfg.DatabaseURL, "database URL (defaults to DATABASE_URL)")

	var format, file *string
	switch cmd {
	case "export":
		format = fs.String("format", "json", "output format: json or yaml")
	case "import":
		file = fs.String("file", "", "JSON or YAML file to import")
	case "stats":
	default:
		return errors.New(usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo, err := repository.Open(ctx, *dbURL, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	switch cmd {
	case "export":
		return doExport(ctx, repo, *format, out)
	case "import":
		if *file == "" {
			fs.PrintDefaults()
			return errors.New("import: -file is required")
		}
		n, err := doImport(ctx, repo, *file, log)
		if err != nil {
			return err
		}
		log.Info().Int("count", n).Msg("imported links")
		return nil
	default:
		return doStats(ctx, repo, out)
	}
}

// doExport writes every link, deleted ones included, so an import restores
// the identifier reservations too.
func doExport(ctx context.Context, repo ports.LinkRepository, format string, out io.Writer) error {
	links, err := repo.Dump(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(links)
	case "yaml", "yml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(links)
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}
}

func doImport(ctx context.Context, repo ports.LinkRepository, filename string, log zerolog.Logger) (int, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	var links []domain.Link
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &links)
	default:
		err = json.Unmarshal(data, &links)
	}
	if err != nil {
		return 0, fmt.Errorf("import: decode %s: %w", filename, err)
	}

	count := 0
	now := time.Now().UTC()
	for i := range links {
		l := links[i]
		if err := services.PrepareImport(&l, now); err != nil {
			log.Warn().Err(err).Str("code", l.Code).Str("alias", l.Alias).Msg("skipping invalid link")
			continue
		}

		err := repo.Insert(ctx, &l)
		switch {
		case errors.Is(err, domain.ErrDuplicateCode), errors.Is(err, domain.ErrDuplicateAlias):
			log.Warn().Str("code", l.Code).Str("alias", l.Alias).Msg("skipping existing identifier")
		case err != nil:
			return count, fmt.Errorf("import %s: %w", l.Code, err)
		default:
			count++
		}
	}
	return count, nil
}

func doStats(ctx context.Context, repo ports.LinkRepository, out io.Writer) error {
	links, err := repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tALIAS\tACCESSES\tUNIQUE\tLIMIT\tLONG URL")
	for _, l := range links {
		limit := "-"
		if l.RequestLimit != nil {
			limit = fmt.Sprint(*l.RequestLimit)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			l.Code, l.Alias, l.Stats.AccessCount, l.Stats.UniqueUsers, limit, l.LongURL)
	}
	return tw.Flush()
}
