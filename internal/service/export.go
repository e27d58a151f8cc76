package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nacexportpro/nacexportpro/internal/config"
	"github.com/nacexportpro/nacexportpro/internal/database"
	"github.com/nacexportpro/nacexportpro/internal/model"
	"github.com/nacexportpro/nacexportpro/pkg/expect"
	"github.com/nacexportpro/nacexportpro/pkg/logger"
	"github.com/nacexportpro/nacexportpro/pkg/sshx"
)

// ExportService runs one full export session: connect to the appliance,
// drive the menu script, then hand the produced file to object storage.
// One invocation owns exactly one transport from open to close; there is
// no concurrency between steps and no retry inside a run — cron handles
// re-invocation.
type ExportService struct {
	cfg         *config.Config
	environment string
	matcher     *expect.Matcher

	// Injection points for tests.
	dial     func(ctx context.Context, cfg *sshx.Config) (expect.Transport, error)
	uploader Uploader
	now      func() time.Time
}

// NewExportService wires the engine against the real SSH transport and
// MinIO uploader.
func NewExportService(cfg *config.Config, environment string) *ExportService {
	return &ExportService{
		cfg:         cfg,
		environment: environment,
		matcher:     &expect.Matcher{Poll: cfg.Script.PollInterval},
		dial: func(ctx context.Context, c *sshx.Config) (expect.Transport, error) {
			return sshx.Dial(ctx, c)
		},
		now: time.Now,
	}
}

// RunReport summarizes one finished run.
type RunReport struct {
	RunID      string
	Outcome    expect.Outcome
	ReportFile string
	ObjectURI  string
	Duration   time.Duration
}

// Run executes the export script end to end. The returned error is one of
// *ConnectionError, *StepTimeoutError, *FileNotFoundError or *UploadError;
// nil means the report was generated, copied and published.
func (s *ExportService) Run(ctx context.Context) (*RunReport, error) {
	started := s.now()
	reportFile := s.cfg.Transfer.ReportFileName(started)
	steps := buildSteps(s.cfg, reportFile)

	run := s.beginRun(started, reportFile)
	report := &RunReport{RunID: run.ID, ReportFile: reportFile, Outcome: expect.Outcome{FailedStep: -1}}

	logger.Infof("starting export run %s (environment: %s, report: %s)", run.ID, s.environmentLabel(), reportFile)

	// Storage preflight: if the destination can never accept the upload
	// there is no point driving the appliance.
	if s.uploader == nil {
		u, err := NewMinioUploader(s.cfg.Storage)
		if err != nil {
			return report, s.failRun(run, report, started, model.ErrClassUpload,
				&UploadError{Object: reportFile, Err: err})
		}
		s.uploader = u
	}
	if err := s.uploader.Preflight(ctx); err != nil {
		return report, s.failRun(run, report, started, model.ErrClassUpload,
			&UploadError{Object: reportFile, Err: err})
	}

	logger.Infof("state: connecting to %s", s.cfg.Appliance.Host)
	tr, err := s.dial(ctx, &sshx.Config{
		Host:           s.cfg.Appliance.Host,
		Port:           s.cfg.Appliance.Port,
		Username:       s.cfg.Appliance.Username,
		KeyFile:        s.cfg.Appliance.KeyFile,
		Password:       s.cfg.Appliance.Password,
		ConnectTimeout: s.cfg.Appliance.ConnectTimeout,
	})
	if err != nil {
		return report, s.failRun(run, report, started, model.ErrClassConnection,
			&ConnectionError{Host: s.cfg.Appliance.Host, Err: err})
	}

	// The transport must be released on every exit path. Close once here;
	// the deferred call covers panics and early returns.
	var closeOnce sync.Once
	closeTransport := func() {
		closeOnce.Do(func() {
			if cerr := tr.Close(); cerr != nil {
				logger.Warnf("transport close failed: %v", cerr)
			}
		})
	}
	defer closeTransport()

	logger.Info("state: running script")
	outcome := s.matcher.RunSequence(tr, steps)
	report.Outcome = outcome

	// The original workflow disconnects before touching the share; the
	// appliance has no further part in the run.
	closeTransport()

	if !outcome.Success {
		return report, s.failRun(run, report, started, model.ErrClassStepTimeout,
			&StepTimeoutError{
				Index:  outcome.FailedStep,
				Name:   outcome.FailedName,
				Reason: outcome.Reason,
				Output: outcome.Output,
			})
	}

	logger.Info("state: transferring")
	localPath := filepath.Join(s.cfg.Transfer.SharePath, reportFile)
	if _, err := os.Stat(localPath); err != nil {
		return report, s.failRun(run, report, started, model.ErrClassFileNotFound,
			&FileNotFoundError{Path: localPath})
	}

	objectName := s.cfg.Storage.Prefix + reportFile
	uri, err := s.uploader.Upload(ctx, localPath, objectName)
	if err != nil {
		return report, s.failRun(run, report, started, model.ErrClassUpload,
			&UploadError{Object: objectName, Err: err})
	}
	report.ObjectURI = uri

	report.Duration = s.now().Sub(started)
	s.finishRun(run, report)
	logger.Infof("state: done, export run %s completed in %s", run.ID, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (s *ExportService) environmentLabel() string {
	if s.environment == "" {
		return "default"
	}
	return s.environment
}

// buildSteps converts the configured script into engine steps, expanding
// the {file} and {repository} placeholders.
func buildSteps(cfg *config.Config, reportFile string) []expect.Step {
	r := strings.NewReplacer(
		"{file}", reportFile,
		"{repository}", cfg.Transfer.Repository,
	)
	steps := make([]expect.Step, 0, len(cfg.Script.Steps))
	for _, sc := range cfg.Script.Steps {
		steps = append(steps, expect.Step{
			Name:    sc.Name,
			Send:    r.Replace(sc.Send),
			Expect:  sc.Expect,
			Timeout: sc.Timeout,
		})
	}
	return steps
}

// beginRun opens the run record. Persistence is best effort: a missing or
// broken database must never block an export.
func (s *ExportService) beginRun(started time.Time, reportFile string) *model.ExportRun {
	run := &model.ExportRun{
		ID:          fmt.Sprintf("run-%s-%d", started.Format("20060102-150405"), started.UnixNano()%1e6),
		Environment: s.environment,
		Host:        s.cfg.Appliance.Host,
		Status:      model.RunStatusRunning,
		FailedStep:  -1,
		ReportFile:  reportFile,
		StartTime:   started,
	}
	if db := database.GetDB(); db != nil {
		if err := db.Create(run).Error; err != nil {
			logger.Warnf("failed to record run start: %v", err)
		}
	}
	return run
}

func (s *ExportService) failRun(run *model.ExportRun, report *RunReport, started time.Time, class string, err error) error {
	report.Duration = s.now().Sub(started)
	run.Status = model.RunStatusFailed
	run.ErrorClass = class
	run.ErrorMsg = err.Error()
	run.FailedStep = report.Outcome.FailedStep
	run.FailedName = report.Outcome.FailedName
	run.EndTime = s.now()
	run.Duration = report.Duration.Milliseconds()
	s.saveRun(run)

	logger.Errorf("export run %s failed (%s): %v", run.ID, class, err)
	if report.Outcome.Output != "" && !report.Outcome.Success {
		logger.Errorf("partial output at failure:\n%s", report.Outcome.Output)
	}
	return err
}

func (s *ExportService) finishRun(run *model.ExportRun, report *RunReport) {
	run.Status = model.RunStatusSuccess
	run.ObjectURI = report.ObjectURI
	run.EndTime = s.now()
	run.Duration = report.Duration.Milliseconds()
	s.saveRun(run)
}

func (s *ExportService) saveRun(run *model.ExportRun) {
	if db := database.GetDB(); db != nil {
		if err := db.Save(run).Error; err != nil {
			logger.Warnf("failed to record run result: %v", err)
		}
	}
}
