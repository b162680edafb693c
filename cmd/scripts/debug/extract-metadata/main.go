package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/extraction"
	"github.com/shishobooks/spines/pkg/models"
)

func main() {
	log := logger.New()

	var opts struct {
		EbookMeta string        `long:"ebook-meta" description:"Path to the ebook-meta tool" default:"ebook-meta"`
		Timeout   time.Duration `short:"t" long:"timeout" description:"Extraction timeout" default:"30s"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/extract-metadata <path/to/book>")
		os.Exit(1)
	}

	cfg := config.Defaults()
	cfg.EbookMetaPath = opts.EbookMeta
	cfg.ExtractionTimeout = opts.Timeout

	path := args[0]
	format := models.FormatFromFilename(path)
	if format == "" {
		log.Fatal("unsupported file type", logger.Data{"path": path})
	}

	ctx := log.WithContext(context.Background())
	result := extraction.NewServiceFromConfig(cfg).ExtractPath(ctx, path, format, filepath.Base(path))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Err(err).Fatal("json marshal error")
	}
	fmt.Println(string(out))
}
