package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ai4altruism/integritykit/internal/retry"
)

// Archiver uploads periodic audit trail exports to object storage so the
// trail survives database loss. The live table keeps everything; archives
// are an extra durable copy, not a purge.
type Archiver struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
	repo     Repository
	logger   *slog.Logger
	retryCfg retry.Config
	timeNow  func() time.Time // For testability
}

// ArchiverConfig holds configuration for the audit archiver.
type ArchiverConfig struct {
	Bucket          string
	Prefix          string // Object key prefix, e.g. "audit"
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // S3-compatible endpoint
	Region          string
	RetryConfig     retry.Config
}

// NewArchiver creates an archiver backed by an S3-compatible bucket.
func NewArchiver(cfg ArchiverConfig, repo Repository, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	if cfg.RetryConfig.MaxDelay == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	s3Client := s3.New(s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: baseEndpoint(cfg.Endpoint),
		UsePathStyle: cfg.Endpoint != "",
	})

	return &Archiver{
		s3Client: s3Client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		repo:     repo,
		logger:   logger,
		retryCfg: cfg.RetryConfig,
		timeNow:  time.Now,
	}, nil
}

func baseEndpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

// Archive exports all entries in [from, to] as JSON and uploads them.
// Returns the object key and the number of entries archived.
func (a *Archiver) Archive(ctx context.Context, from, to time.Time) (string, int, error) {
	entries, err := a.repo.QueryRange(ctx, from, to, 0)
	if err != nil {
		return "", 0, fmt.Errorf("failed to query entries for archive: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}

	data, err := exportToJSON(entries)
	if err != nil {
		return "", 0, fmt.Errorf("failed to render archive: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json",
		a.prefix,
		to.UTC().Format("2006/01/02"),
		to.UTC().Format("20060102T150405Z"))

	upload := func(ctx context.Context) error {
		_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return retry.Mark(err)
		}
		return nil
	}
	if err := retry.Do(ctx, a.retryCfg, "audit_archive_upload", upload); err != nil {
		return "", 0, fmt.Errorf("failed to upload archive: %w", err)
	}

	a.logger.Info("audit archive uploaded",
		"key", key,
		"entries", len(entries),
		"from", from,
		"to", to)
	return key, len(entries), nil
}

// DefaultArchiveInterval is the default interval between archive runs.
const DefaultArchiveInterval = 1 * time.Hour

// ArchiveJobConfig configures the periodic archive job.
type ArchiveJobConfig struct {
	// Interval is the duration between archive runs.
	Interval time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for run outcome tracking.
	Metrics *Metrics
	// Timeout for a single archive run.
	Timeout time.Duration
}

// ArchiveJob periodically uploads the most recent window of audit entries.
type ArchiveJob struct {
	config   ArchiveJobConfig
	archiver *Archiver

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastRun time.Time
}

// NewArchiveJob creates a new archive job.
func NewArchiveJob(config ArchiveJobConfig, archiver *Archiver) *ArchiveJob {
	if config.Interval == 0 {
		config.Interval = DefaultArchiveInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	return &ArchiveJob{config: config, archiver: archiver}
}

// Start begins the periodic archive job.
// Returns immediately; the job runs in a background goroutine.
func (j *ArchiveJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.lastRun = time.Now().UTC()
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the archive job to stop and waits for it to finish.
func (j *ArchiveJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *ArchiveJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *ArchiveJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("audit archive job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("audit archive job stopping due to stop signal")
			return
		case <-ticker.C:
			j.archiveWindow(ctx)
		}
	}
}

// archiveWindow uploads entries created since the previous run.
func (j *ArchiveJob) archiveWindow(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	j.mu.Lock()
	from := j.lastRun
	j.mu.Unlock()
	to := time.Now().UTC()

	key, count, err := j.archiver.Archive(ctx, from, to)
	if err != nil {
		j.config.Logger.Error("audit archive run failed",
			"from", from,
			"to", to,
			"error", err)
		if j.config.Metrics != nil {
			j.config.Metrics.IncArchiveRuns("failure")
		}
		return
	}

	j.mu.Lock()
	j.lastRun = to
	j.mu.Unlock()

	if j.config.Metrics != nil {
		j.config.Metrics.IncArchiveRuns("success")
	}
	if count > 0 {
		j.config.Logger.Info("audit archive run completed",
			"key", key,
			"entries", count)
	}
}
