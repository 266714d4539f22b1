package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"hibikido/logger"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".flac": true,
	".aiff": true,
	".aif":  true,
	".mp3":  true,
	".ogg":  true,
	".m4a":  true,
}

// BatchOptions controls a batch run over a directory tree.
type BatchOptions struct {
	Root    string   // directory to walk
	BaseDir string   // path prefix stripped from stored paths; defaults to Root
	Workers int      // concurrent ingests, minimum 1
	Tags    []string // folded into every embedding text
	Watch   bool     // keep watching Root after the initial walk
}

// BatchResult counts the outcome of a batch run.
type BatchResult struct {
	Ingested int
	Skipped  int
	Failed   int
}

// Batch ingests every audio file under opts.Root as a recording with an
// auto-segment, the file's stem as description. Files already in the store
// are skipped. With Watch set it then follows the directory until ctx is
// done.
func (in *Ingester) Batch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	var files []string
	err := filepath.WalkDir(opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)
	jobs := make(chan string)

	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				outcome := in.ingestFile(ctx, opts, path)
				mu.Lock()
				switch outcome {
				case outcomeIngested:
					result.Ingested++
				case outcomeSkipped:
					result.Skipped++
				default:
					result.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, path := range files {
		select {
		case jobs <- path:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	logger.Info("batch walk done",
		logger.Int("ingested", result.Ingested),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed))

	if !opts.Watch {
		return result, nil
	}
	return result, in.watch(ctx, opts, &mu, &result)
}

type outcome int

const (
	outcomeIngested outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (in *Ingester) ingestFile(ctx context.Context, opts BatchOptions, path string) outcome {
	base := opts.BaseDir
	if base == "" {
		base = opts.Root
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	if _, exists := in.store.RecordingByPath(rel); exists {
		return outcomeSkipped
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	description := strings.ReplaceAll(strings.ReplaceAll(stem, "_", " "), "-", " ")

	if _, _, err := in.AddRecording(ctx, rel, description, opts.Tags...); err != nil {
		logger.Error("batch ingest failed",
			logger.String("path", rel),
			logger.ErrorField(err))
		return outcomeFailed
	}
	return outcomeIngested
}

// watch follows Root with fsnotify and ingests audio files as they are
// created or written. Events for one file may repeat while it is being
// copied in; the duplicate check in ingestFile makes the repeats harmless.
func (in *Ingester) watch(ctx context.Context, opts BatchOptions, mu *sync.Mutex, result *BatchResult) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	err = filepath.WalkDir(opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("watching for new audio", logger.String("root", opts.Root))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				watcher.Add(event.Name)
				continue
			}
			if !audioExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			o := in.ingestFile(ctx, opts, event.Name)
			mu.Lock()
			switch o {
			case outcomeIngested:
				result.Ingested++
			case outcomeSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}
