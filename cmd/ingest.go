package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hibikido/cache"
	"hibikido/core/audio"
	"hibikido/core/embed"
	"hibikido/core/ingest"
	"hibikido/core/retrieve"
	"hibikido/logger"
	"hibikido/storage"
	"hibikido/store"
)

var (
	ingestRoot    string
	ingestWorkers int
	ingestTags    []string
	ingestWatch   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Batch-ingest a directory of audio files into the catalog",
	Long: `Walks a directory tree and ingests every audio file as a recording
with an auto-segment, using the file name as description. Already
ingested files are skipped, so re-running over the same tree is safe.
With --watch the process keeps following the directory and ingests
files as they appear.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestRoot, "dir", "", "directory to ingest (default: audio.audio_directory)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 4, "concurrent ingest workers")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tag", nil, "tags folded into every embedding text")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep watching the directory after the walk")
	rootCmd.AddCommand(ingestCmd)
}

// resolveIngestRoot validates the walk directory against the audio root.
// Stored paths are resolved against the audio root at serve time, so the
// walk must stay inside it; paths are stored relative to the root, not the
// walk directory.
func resolveIngestRoot(dir, audioRoot string) (walk, base string, err error) {
	base, err = filepath.Abs(audioRoot)
	if err != nil {
		return "", "", err
	}
	if dir == "" {
		return base, base, nil
	}
	walk, err = filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	rel, err := filepath.Rel(base, walk)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf(
			"--dir %s is outside the audio root %s: stored paths would not resolve at serve time", dir, audioRoot)
	}
	return walk, base, nil
}

func runIngest() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, audioRoot, err := resolveIngestRoot(ingestRoot, cfg.Audio.AudioDirectory)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.DataDir)
	if err != nil {
		return err
	}

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return err
	}
	if cfg.Cache.Addr != "" {
		cached, err := cache.NewCachedEmbedder(cfg.Cache, embedder)
		if err != nil {
			return err
		}
		defer cached.Close()
		embedder = cached
	}

	var fetcher audio.Fetcher
	if cfg.Storage.Endpoint != "" {
		if fetcher, err = storage.NewMinioFetcher(cfg.Storage); err != nil {
			return err
		}
	}
	source := audio.NewPCMSource(audioRoot, cfg.Audio.FFmpegPath, cfg.Audio.SampleRate, fetcher)
	retriever := retrieve.New(st, embedder, cfg.Embedding.IndexFile)
	ingester := ingest.New(st, audio.NewAnalyzer(source), retriever)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := ingester.Batch(ctx, ingest.BatchOptions{
		Root:    root,
		BaseDir: audioRoot,
		Workers: ingestWorkers,
		Tags:    ingestTags,
		Watch:   ingestWatch,
	})
	if err != nil && err != context.Canceled {
		return err
	}

	logger.Info("ingest finished",
		logger.Int("ingested", result.Ingested),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed))
	fmt.Fprintf(os.Stdout, "ingested %d, skipped %d, failed %d\n",
		result.Ingested, result.Skipped, result.Failed)
	return nil
}
