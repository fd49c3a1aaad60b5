package drive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/doctype"
	"github.com/ozonereg/declpipe/internal/jobs"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/store"
)

// Remote folder layout. Files land in incoming/<doctype>/ and are moved
// to processed/ or failed/ once their log reaches a terminal status.
const (
	FolderProcessed = "processed"
	FolderFailed    = "failed"
)

// Ingester polls the drive source on a schedule and runs discovered
// PDFs through the pipeline, one ExtractionLog per attempt. Runs are
// synchronous within a sweep so the log's raw OCR/AI payloads are
// available at terminal status.
type Ingester struct {
	src     Source
	mgr     *jobs.Manager
	exec    jobs.Executor
	store   store.Store
	sink    *store.Sink
	cfg     config.IngestCfg
	pcfg    config.Pipeline
	dataDir string
	logger  *slog.Logger
}

// NewIngester creates a scheduled ingester. Downloads are staged under
// dataDir; the sink, if non-nil, carries terminal log updates.
func NewIngester(src Source, mgr *jobs.Manager, exec jobs.Executor, st store.Store, sink *store.Sink, cfg config.IngestCfg, pcfg config.Pipeline, dataDir string, logger *slog.Logger) *Ingester {
	return &Ingester{
		src:     src,
		mgr:     mgr,
		exec:    exec,
		store:   st,
		sink:    sink,
		cfg:     cfg,
		pcfg:    pcfg,
		dataDir: dataDir,
		logger:  logger.With("component", "ingest"),
	}
}

// EnsureLayout creates the remote folder structure if absent.
func (in *Ingester) EnsureLayout(ctx context.Context) error {
	incoming := in.incomingRoot()
	if err := in.src.CreateFolder(ctx, incoming, ""); err != nil {
		return err
	}
	for _, dt := range []doctype.DocType{doctype.Form01, doctype.Form02} {
		if err := in.src.CreateFolder(ctx, string(dt), incoming); err != nil {
			return err
		}
	}
	if err := in.src.CreateFolder(ctx, FolderProcessed, ""); err != nil {
		return err
	}
	return in.src.CreateFolder(ctx, FolderFailed, "")
}

// Run sweeps on the configured interval until ctx is cancelled.
func (in *Ingester) Run(ctx context.Context) {
	interval := time.Duration(in.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	in.logger.Info("ingester started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		in.RunOnce(ctx)
		select {
		case <-ctx.Done():
			in.logger.Info("ingester stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes up to one batch per document type.
func (in *Ingester) RunOnce(ctx context.Context) {
	for _, dt := range []doctype.DocType{doctype.Form01, doctype.Form02} {
		folder := path.Join(in.incomingRoot(), string(dt))
		files, err := in.src.List(ctx, folder)
		if err != nil {
			in.logger.Error("folder listing failed", "folder", folder, "error", err)
			continue
		}

		batch := in.cfg.BatchSize
		if batch <= 0 {
			batch = 5
		}
		for i, f := range files {
			if i >= batch {
				break
			}
			if !strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
				continue
			}
			in.processFile(ctx, dt, f)
		}
	}
}

func (in *Ingester) processFile(ctx context.Context, dt doctype.DocType, f FileMeta) {
	logger := in.logger.With("file", f.Name, "file_id", f.ID, "doc_type", dt)

	logID, err := in.store.Create(ctx, store.CollectionExtractionLog, map[string]any{
		"drive_file_id": f.ID,
		"file_name":     f.Name,
		"doc_type":      string(dt),
		"status":        "processing",
		"created_at":    pipeline.NowRFC3339(),
	})
	if err != nil {
		logger.Error("failed to create extraction log", "error", err)
		return
	}

	if f.Size > in.pcfg.MaxFileSizeBytes() {
		logger.Warn("file exceeds size cap", "size", f.Size)
		in.finishLog(logID, map[string]any{
			"status": "skipped_too_large",
			"detail": fmt.Sprintf("file is %d bytes, cap is %d", f.Size, in.pcfg.MaxFileSizeBytes()),
		})
		in.moveFile(ctx, f.ID, FolderFailed, logger)
		return
	}

	data, err := in.src.Download(ctx, f.ID)
	if err != nil {
		logger.Error("download failed", "error", err)
		in.finishLog(logID, map[string]any{
			"status": "error",
			"detail": fmt.Sprintf("download failed: %v", err),
		})
		in.moveFile(ctx, f.ID, FolderFailed, logger)
		return
	}

	localPath := filepath.Join(in.dataDir, f.ID+".pdf")
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		logger.Error("failed to stage download", "error", err)
		in.finishLog(logID, map[string]any{
			"status": "error",
			"detail": fmt.Sprintf("staging failed: %v", err),
		})
		return
	}

	sum := sha256.Sum256(data)
	job, err := in.mgr.Submit(ctx, jobs.SubmitRequest{
		FileName:   f.Name,
		FileHash:   hex.EncodeToString(sum[:]),
		SourcePath: localPath,
		DocType:    dt,
	})
	if err != nil {
		logger.Error("job submission failed", "error", err)
		in.finishLog(logID, map[string]any{
			"status": "error",
			"detail": fmt.Sprintf("submit failed: %v", err),
		})
		return
	}

	if err := in.exec.Execute(ctx, job); err != nil {
		logger.Error("extraction failed", "job_id", job.ID, "error", err)
		in.finishLog(logID, map[string]any{
			"status":       "error",
			"job_id":       job.ID,
			"ocr_response": job.OCRResultsJSON,
			"ai_response":  job.BatchResultsJSON,
			"detail":       err.Error(),
		})
		in.moveFile(ctx, f.ID, FolderFailed, logger)
		return
	}

	in.finishLog(logID, map[string]any{
		"status":       "success",
		"job_id":       job.ID,
		"record_ref":   job.Token,
		"ocr_response": job.OCRResultsJSON,
		"ai_response":  job.BatchResultsJSON,
	})
	in.moveFile(ctx, f.ID, FolderProcessed, logger)
	logger.Info("file ingested", "job_id", job.ID)
}

// finishLog writes the single terminal update for a log record. It goes
// through the sink when one is configured; losing an audit write must
// never fail the ingest sweep.
func (in *Ingester) finishLog(logID string, fields map[string]any) {
	fields["updated_at"] = pipeline.NowRFC3339()
	if in.sink != nil {
		err := in.sink.Write(store.WriteOp{
			Type:       store.OpUpdate,
			Collection: store.CollectionExtractionLog,
			DocID:      logID,
			Input:      fields,
		})
		if err == nil {
			return
		}
		in.logger.Warn("sink rejected log update, writing directly", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := in.store.Update(ctx, store.CollectionExtractionLog, logID, fields); err != nil {
		in.logger.Error("failed to finalize extraction log", "log_id", logID, "error", err)
	}
}

func (in *Ingester) moveFile(ctx context.Context, fileID, dest string, logger *slog.Logger) {
	if err := in.src.Move(ctx, fileID, dest); err != nil {
		logger.Error("failed to move file", "dest", dest, "error", err)
	}
}

func (in *Ingester) incomingRoot() string {
	if in.cfg.IncomingFolder != "" {
		return in.cfg.IncomingFolder
	}
	return "incoming"
}
