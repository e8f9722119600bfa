// Package pipeline orchestrates one consolidation run: extraction, import,
// per-taxpayer master workbook generation and the rolling summary report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"qworker/internal/archive"
	"qworker/internal/config"
	"qworker/internal/consolidate"
	"qworker/internal/declaration"
	"qworker/internal/infrastructure"
	"qworker/internal/metadata"
	"qworker/internal/progress"
	"qworker/internal/report"
	"qworker/internal/store"
)

// Engine is the consolidation engine shared by all trigger adapters.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	tracker  progress.Tracker
	notifier Notifier
	settings SettingsProvider
	logger   *slog.Logger
	metrics  *infrastructure.BusinessMetrics
}

// NewEngine assembles the engine. notifier and settings may be nil; a nil
// notifier disables notifications and a nil settings provider always falls
// back to the configured output directory.
func NewEngine(cfg *config.Config, st store.Store, tracker progress.Tracker,
	notifier Notifier, settings SettingsProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		tracker:  tracker,
		notifier: notifier,
		settings: settings,
		logger:   logger,
	}
}

// SetMetrics attaches the business metrics instruments. The engine runs
// unmetered when none are set.
func (e *Engine) SetMetrics(m *infrastructure.BusinessMetrics) {
	e.metrics = m
}

// Start launches a run on its own goroutine and returns its identifier
// immediately. The caller polls the tracker for completion.
func (e *Engine) Start(ctx context.Context, user string, paths []string) string {
	runID := uuid.New().String()
	e.tracker.Update(runID, 0, progress.PhasePending, "")

	// the run outlives the triggering request
	runCtx := infrastructure.WithRunID(context.WithoutCancel(ctx), runID)
	go e.Run(runCtx, runID, user, paths)

	return runID
}

// Run executes one consolidation run synchronously. There is no
// cancellation: once started the run proceeds to a terminal phase.
func (e *Engine) Run(ctx context.Context, runID, user string, paths []string) {
	logger := e.logger.With(slog.String("run_id", runID), slog.String("user", user))
	outputDir := e.resolveOutputDir(user)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("run panicked: %v", r)
			logger.Error("consolidation run panicked", slog.Any("panic", r))
			e.tracker.Update(runID, 100, progress.PhaseFailed, detail)
			e.metrics.RecordRunMetrics(ctx, "upload", "panic", time.Since(start))
			e.notify(ctx, user, "Consolidation Failed", detail, SeverityError)
		}
	}()

	e.tracker.Update(runID, 5, progress.PhaseInitializing, "Preparing files...")

	scratch := filepath.Join(e.cfg.Paths.ScratchDir, runID)
	extractor := archive.NewExtractor(scratch, logger)
	defer extractor.Cleanup()

	e.tracker.Update(runID, 10, progress.PhaseExtracting, "Extracting uploads...")
	candidates := extractor.Collect(paths)
	if len(candidates) == 0 {
		// a normal, non-exceptional outcome: nothing usable was uploaded
		detail := fmt.Sprintf("No valid sales files found among %d input(s).", len(paths))
		logger.Warn("run ended with no candidates", slog.Int("inputs", len(paths)))
		e.tracker.Update(runID, 100, progress.PhaseError, detail)
		e.metrics.RecordRunMetrics(ctx, "upload", "no_input", time.Since(start))
		e.notify(ctx, user, "Consolidation Failed", detail, SeverityError)
		return
	}

	imported, profiles := e.importFiles(ctx, runID, user, candidates, logger)

	if err := e.consolidate(ctx, runID, user, outputDir, profiles, logger); err != nil {
		detail := err.Error()
		logger.Error("consolidation failed", slog.String("error", detail))
		e.tracker.Update(runID, 100, progress.PhaseFailed, detail)
		e.metrics.RecordRunMetrics(ctx, "upload", "failure", time.Since(start))
		e.notify(ctx, user, "Consolidation Failed", "Task failed: "+detail, SeverityError)
		return
	}

	detail := fmt.Sprintf("Saved to %s", outputDir)
	e.tracker.Update(runID, 100, progress.PhaseCompleted, detail)
	e.metrics.RecordRunMetrics(ctx, "upload", "success", time.Since(start))
	logger.Info("consolidation run completed",
		slog.Int("files", len(candidates)),
		slog.Int("rows_imported", imported),
		slog.Int("taxpayers", len(profiles)))
	e.notify(ctx, user, "Consolidation Finished",
		"Data consolidation task completed successfully.", SeveritySuccess)
}

// importFiles normalizes and stores every candidate file. A failed file is
// logged and skipped; the run continues. Returns the number of newly
// inserted rows and the profile of every taxpayer touched.
func (e *Engine) importFiles(ctx context.Context, runID, user string,
	candidates []string, logger *slog.Logger) (int, map[string]metadata.Profile) {

	normalizer := declaration.NewNormalizer(logger,
		e.cfg.Consolidation.HeaderRows, e.cfg.Consolidation.Columns)
	archiver := archive.NewArchiver(
		filepath.Join(e.resolveOutputDir(user), e.cfg.Paths.ArchiveDir), logger)

	profiles := make(map[string]metadata.Profile)
	imported := 0
	total := len(candidates)

	for i, file := range candidates {
		name := filepath.Base(file)
		percent := 20 + i*30/total
		e.tracker.Update(runID, percent, progress.PhaseImporting,
			fmt.Sprintf("Reading %s", name))

		tin := metadata.TINFromFilename(file)

		parsed, err := normalizer.ReadFile(file, tin, "", user)
		if err != nil {
			logger.Error("failed to import file, skipping",
				slog.String("file", name),
				slog.String("error", err.Error()))
			continue
		}

		// the first parseable company name per TIN wins; files with a
		// garbled title leave the slot open for a later file to fill
		profile := metadata.ProfileFromTitle(tin, parsed.Title)
		if existing, seen := profiles[tin]; !seen || existing.CompanyName == "" {
			profiles[tin] = profile
		}

		for j := range parsed.Rows {
			parsed.Rows[j].Branch = profile.Branch
		}

		inserted, err := e.store.InsertBatch(ctx, tin, parsed.Rows)
		if err != nil {
			logger.Error("failed to store rows, skipping file",
				slog.String("file", name),
				slog.String("tin", tin),
				slog.String("error", err.Error()))
			continue
		}
		imported += inserted
		e.metrics.RecordImportMetrics(ctx, inserted)
		logger.Info("file imported",
			slog.String("file", name),
			slog.String("tin", tin),
			slog.Int("rows_new", inserted),
			slog.Int("rows_read", len(parsed.Rows)),
			slog.Int("rows_skipped", parsed.Skipped))

		if period, ok := metadata.PeriodFromFilename(file); ok {
			if err := archiver.Store(tin, period, file); err != nil {
				logger.Warn("failed to archive source file",
					slog.String("file", name),
					slog.String("error", err.Error()))
			}
		}
	}

	return imported, profiles
}

// consolidate renders one master workbook per touched taxpayer and updates
// the summary report.
func (e *Engine) consolidate(ctx context.Context, runID, user, outputDir string,
	profiles map[string]metadata.Profile, logger *slog.Logger) error {

	e.tracker.Update(runID, 50, progress.PhaseConsolidating, "Generating master files...")

	writer := consolidate.NewMasterWriter(outputDir, logger)
	var entries []report.Entry

	idx := 0
	for tin, profile := range profiles {
		percent := 50 + idx*40/len(profiles)
		idx++
		e.tracker.Update(runID, percent, progress.PhaseConsolidating,
			fmt.Sprintf("Formatting %s", tin))

		rows, err := e.store.RowsForTaxpayer(ctx, tin)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", tin, err)
		}
		if len(rows) == 0 {
			continue
		}

		// the TIN stands in for taxpayers whose titles never parsed
		company := profile.CompanyName
		if company == "" {
			company = tin
		}

		chunks := consolidate.ChunkRows(rows, e.cfg.Consolidation.ChunkWidth(tin))
		if _, err := writer.Write(tin, company, chunks); err != nil {
			return fmt.Errorf("failed to write master workbook for %s: %w", tin, err)
		}
		e.metrics.RecordTaxpayerMetrics(ctx)

		entries = append(entries, report.BuildEntries(tin, rows)...)
	}

	e.tracker.Update(runID, 90, progress.PhaseFinalizing, "Updating summary report...")
	if _, err := report.NewSummaryWriter(outputDir, logger).Update(entries); err != nil {
		return fmt.Errorf("failed to update summary report: %w", err)
	}
	return nil
}

// RunAll is the batch-report variant: a run over every taxpayer with any
// stored history, regenerating all master workbooks and the summary. Like
// Start it returns a run id immediately and performs the rebuild on its own
// goroutine; only the taxpayer enumeration happens on the caller's context.
func (e *Engine) RunAll(ctx context.Context, user string) (string, error) {
	tins, err := e.store.Taxpayers(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to enumerate taxpayers: %w", err)
	}

	runID := uuid.New().String()
	e.tracker.Update(runID, 5, progress.PhaseInitializing,
		fmt.Sprintf("Rebuilding reports for %d taxpayer(s)...", len(tins)))

	runCtx := infrastructure.WithRunID(context.WithoutCancel(ctx), runID)
	go e.rebuild(runCtx, runID, user, tins)

	return runID, nil
}

// rebuild regenerates every master workbook and the summary from stored
// history.
func (e *Engine) rebuild(ctx context.Context, runID, user string, tins []string) {
	logger := e.logger.With(slog.String("run_id", runID), slog.String("user", user))
	outputDir := e.resolveOutputDir(user)
	start := time.Now()

	profiles := make(map[string]metadata.Profile, len(tins))
	for _, tin := range tins {
		profiles[tin] = metadata.Profile{TIN: tin}
	}

	if err := e.consolidate(ctx, runID, user, outputDir, profiles, logger); err != nil {
		logger.Error("rebuild failed", slog.String("error", err.Error()))
		e.tracker.Update(runID, 100, progress.PhaseFailed, err.Error())
		e.metrics.RecordRunMetrics(ctx, "rebuild", "failure", time.Since(start))
		e.notify(ctx, user, "Consolidation Failed", "Task failed: "+err.Error(), SeverityError)
		return
	}

	e.tracker.Update(runID, 100, progress.PhaseCompleted,
		fmt.Sprintf("Saved to %s", outputDir))
	e.metrics.RecordRunMetrics(ctx, "rebuild", "success", time.Since(start))
	logger.Info("rebuild completed", slog.Int("taxpayers", len(tins)))
}

// resolveOutputDir returns the user's configured output directory or the
// configured default, creating it as needed.
func (e *Engine) resolveOutputDir(user string) string {
	dir := e.cfg.Paths.OutputDir
	if e.settings != nil {
		if userDir, ok := e.settings.OutputDir(user); ok && userDir != "" {
			dir = userDir
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.logger.Warn("failed to create output directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
	return dir
}

// notify invokes the notification sink when one is configured.
func (e *Engine) notify(ctx context.Context, user, title, message, severity string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, user, title, message, severity)
}
