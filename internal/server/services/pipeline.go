package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/linkx"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/dmitrijs2005/gophdeobf/internal/server/metrics"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
	"github.com/dmitrijs2005/gophdeobf/internal/server/results"
	"github.com/dmitrijs2005/gophdeobf/internal/server/workarea"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"
)

// Ledger is the part of LedgerService the pipeline depends on.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ClaimDaily(ctx context.Context, userID string) (bool, error)
	TryDebit(ctx context.Context, userID string) (bool, error)
}

// Transformer runs the external tool on inputPath, producing outputPath.
type Transformer interface {
	Invoke(ctx context.Context, inputPath, outputPath string, timeout time.Duration) (string, error)
}

// Downloader fetches URL-sourced submissions.
type Downloader interface {
	Fetch(ctx context.Context, url string, limit int64) ([]byte, error)
}

// Archiver stores a finished output and returns a link to it.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) (string, error)
}

// SubmitRequest is one job submission. Exactly one of Source and
// SourceURL is used; Source wins when both are set.
type SubmitRequest struct {
	UserID   string
	Filename string
	Source   []byte
	// SourceURL is fetched through the Downloader when Source is nil.
	SourceURL string
	// DeclaredSize is the size announced by the front end, checked before
	// anything is fetched. Zero means unknown.
	DeclaredSize int64
}

// PipelineService runs jobs end to end: validate, meter, transform,
// charge, clean up.
type PipelineService struct {
	ledger     Ledger
	tool       Transformer
	downloader Downloader
	archiver   Archiver
	logger     logging.Logger
	sem        *semaphore.Weighted

	workDir       string
	allowed       map[string]struct{}
	maxBytes      int64
	toolTimeout   time.Duration
	linkScanBytes int

	// Now and NewRequestID are replaceable in tests.
	Now          func() time.Time
	NewRequestID func() string
}

// PipelineOption configures optional collaborators.
type PipelineOption func(*PipelineService)

// WithDownloader enables URL-sourced submissions.
func WithDownloader(d Downloader) PipelineOption {
	return func(s *PipelineService) { s.downloader = d }
}

// WithArchiver uploads every successful output.
func WithArchiver(a Archiver) PipelineOption {
	return func(s *PipelineService) { s.archiver = a }
}

// NewPipelineService builds a pipeline from cfg. At most
// cfg.MaxConcurrentJobs tool processes run at once.
func NewPipelineService(ledger Ledger, tool Transformer, logger logging.Logger, cfg *config.Config, opts ...PipelineOption) *PipelineService {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	limit := cfg.MaxConcurrentJobs
	if limit < 1 {
		limit = 1
	}

	// a tool run is never unbounded
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = config.DefaultToolTimeout
	}

	s := &PipelineService{
		ledger:        ledger,
		tool:          tool,
		logger:        logger,
		sem:           semaphore.NewWeighted(limit),
		workDir:       cfg.WorkDir,
		allowed:       allowed,
		maxBytes:      cfg.MaxUploadBytes,
		toolTimeout:   toolTimeout,
		linkScanBytes: cfg.LinkScanBytes,
		Now:           time.Now,
		NewRequestID:  func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks the filename extension and the payload size. It never
// touches the ledger.
func (s *PipelineService) Validate(req SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: empty user id", common.ErrorValidation)
	}

	ext := strings.ToLower(filepath.Ext(workarea.Sanitize(req.Filename)))
	if _, ok := s.allowed[ext]; !ok {
		if ext == "" {
			ext = "unknown"
		}
		return fmt.Errorf("%w: file type %s is not accepted", common.ErrorValidation, ext)
	}

	size := req.DeclaredSize
	if req.Source != nil {
		size = int64(len(req.Source))
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("%w: file is %d bytes, maximum is %d", common.ErrorValidation, size, s.maxBytes)
	}

	if req.Source == nil && req.SourceURL == "" {
		return fmt.Errorf("%w: no file attached", common.ErrorValidation)
	}
	if req.Source == nil && s.downloader == nil {
		return fmt.Errorf("%w: url submissions are disabled", common.ErrorValidation)
	}

	return nil
}

// Submit runs one job. On success the owner is charged exactly one token;
// on any failure nothing is charged. The working area is removed on every
// exit path.
func (s *PipelineService) Submit(ctx context.Context, req SubmitRequest) (res *models.TransformResult, err error) {
	start := s.Now()
	job := &models.Job{
		OwnerUserID:    req.UserID,
		SourceFilename: req.Filename,
		SourceSize:     int64(len(req.Source)),
		State:          models.JobValidating,
		CreatedAt:      start,
	}

	advance := func(next models.JobState) {
		if job.Advance(next) {
			s.logger.Debug(ctx, "job state", "request_id", job.RequestID, "user_id", req.UserID, "state", next)
		}
	}

	defer func() {
		if err != nil {
			advance(models.JobFailed)
		}
		metrics.JobsTotal.WithLabelValues(outcome(err)).Inc()
		s.logger.Info(ctx, "job finished",
			"request_id", job.RequestID, "user_id", req.UserID, "state", job.State, "outcome", outcome(err))
	}()

	// 1. validation; no ledger access on failure
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	// 2. replenishment is independent of this job's fate
	advance(models.JobAwaitingBalance)
	if _, err := s.ledger.ClaimDaily(ctx, req.UserID); err != nil {
		s.logger.Warn(ctx, "daily claim skipped", "user_id", req.UserID, "error", err)
	}

	// 3. fail fast; a ledger error denies the job
	balance, err := s.ledger.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInsufficientBalance, err)
	}
	if balance < 1 {
		return nil, common.ErrInsufficientBalance
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	// 4. private working area
	job.RequestID = s.NewRequestID()
	log := s.logger.With("request_id", job.RequestID, "user_id", req.UserID)

	area, err := workarea.New(s.workDir, job.RequestID, req.Filename)
	if err != nil {
		log.Error(ctx, "work area", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	defer func() {
		// 9. cleanup failures are logged, never returned
		if cerr := area.Cleanup(); cerr != nil {
			log.Warn(ctx, "cleanup failed", "dir", area.Dir, "error", cerr)
		}
	}()

	// 5. materialise input, inline or fetched
	advance(models.JobDownloading)
	source := req.Source
	if source == nil {
		source, err = s.downloader.Fetch(ctx, req.SourceURL, s.maxBytes)
		if err != nil {
			log.Warn(ctx, "download failed", "error", err)
			return nil, err
		}
		job.SourceSize = int64(len(source))
	}
	if err := area.WriteInput(source); err != nil {
		log.Error(ctx, "write input", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrorDownload, err)
	}

	log.Info(ctx, "processing", "filename", req.Filename, "size", job.SourceSize)

	// 6. run the tool
	advance(models.JobTransforming)
	metrics.ToolRunning.Inc()
	diag, err := s.tool.Invoke(ctx, area.InputPath, area.OutputPath, s.toolTimeout)
	metrics.ToolRunning.Dec()
	if diag != "" {
		log.Debug(ctx, "tool output", "diagnostics", diag)
	}
	if err != nil {
		log.Warn(ctx, "tool failed", "error", err)
		return nil, err
	}

	// 7. deliver, then charge
	output, err := os.ReadFile(area.OutputPath)
	if err != nil {
		log.Error(ctx, "read output", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrorExternalTool, err)
	}

	digest := blake2b.Sum256(output)
	res = &models.TransformResult{
		RequestID:    job.RequestID,
		Output:       output,
		OutputName:   ResultName(req.Filename, s.Now()),
		OriginalSize: job.SourceSize,
		OutputSize:   int64(len(output)),
		Diagnostics:  diag,
		Links:        linkx.Scan(output, s.linkScanBytes),
		Digest:       hex.EncodeToString(digest[:]),
	}

	debited, derr := s.ledger.TryDebit(ctx, req.UserID)
	switch {
	case derr != nil:
		metrics.DebitMissed.Inc()
		log.Error(ctx, "job delivered without debit", "error", derr)
	case !debited:
		metrics.DebitMissed.Inc()
		log.Warn(ctx, "job delivered without debit: balance spent by a concurrent job")
	}

	res.RemainingBalance = models.UnknownBalance
	if b, err := s.ledger.GetBalance(ctx, req.UserID); err != nil {
		log.Warn(ctx, "remaining balance unavailable", "error", err)
	} else {
		res.RemainingBalance = b
	}

	if s.archiver != nil {
		key := results.Key(s.Now(), job.RequestID, res.OutputName)
		url, err := s.archiver.Archive(ctx, key, output)
		if err != nil {
			log.Warn(ctx, "archive failed", "key", key, "error", err)
		} else {
			res.DownloadURL = url
		}
	}

	advance(models.JobSucceeded)
	res.Duration = s.Now().Sub(start)
	metrics.JobDuration.Observe(res.Duration.Seconds())
	log.Info(ctx, "job completed", "duration", res.Duration, "output_size", res.OutputSize, "links", len(res.Links))

	return res, nil
}

// ResultName is the download name for a job's output:
// deobfuscated_<stem>_<unix millis>.lua.
func ResultName(filename string, now time.Time) string {
	name := workarea.Sanitize(filename)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return fmt.Sprintf("deobfuscated_%s_%d.lua", stem, now.UnixMilli())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSucceeded
	case errors.Is(err, common.ErrorValidation):
		return metrics.OutcomeValidation
	case errors.Is(err, common.ErrInsufficientBalance):
		return metrics.OutcomeInsufficient
	case errors.Is(err, common.ErrorDownload):
		return metrics.OutcomeDownload
	case errors.Is(err, common.ErrorExternalTool):
		return metrics.OutcomeTool
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeInternal
	}
}
