package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"wifiwatch/internal/config"
	"wifiwatch/internal/model"
	"wifiwatch/internal/normalize"
)

// StartFileTail follows each configured file, e.g. the output of a periodic
// nmcli scan appended by cron. Truncation reopens the file from the start.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.Measurement, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		path := path
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		// each file keeps its own CSV header
		go tailFile(ctx, path, current.StartAtEnd, cfg, NewParser(), out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, parser *Parser, out chan<- model.Measurement, logger *slog.Logger) {
	var file *os.File
	var offset int64
	truncated := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd && !truncated {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
			truncated = false
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						truncated = true
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			fields, err := parser.ParseLine(line)
			if err != nil || fields == nil {
				continue
			}
			fields.Source = "file_tail"
			m, err := normalize.Normalize(*fields, cfg.Get())
			if err != nil {
				rejected("file_tail")
				if logger != nil {
					logger.Warn("tail normalize error", "path", path, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, m, logger)
		}
	}
}
