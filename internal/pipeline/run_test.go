package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"qworker/internal/config"
	"qworker/internal/infrastructure"
	"qworker/internal/progress"
	"qworker/internal/report"
	"qworker/internal/store"
)

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	User     string
	Title    string
	Message  string
	Severity string
}

func (n *recordingNotifier) Notify(_ context.Context, user, title, message, severity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{user, title, message, severity})
}

func (n *recordingNotifier) last(t *testing.T) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.calls)
	return n.calls[len(n.calls)-1]
}

// writeDeclaration builds a sales declaration workbook for the given
// taxpayer with one data row per invoice.
func writeDeclaration(t *testing.T, path, title string, invoices map[string]string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", title))
	require.NoError(t, f.SetCellValue(sheet, "A2", "header"))
	require.NoError(t, f.SetCellValue(sheet, "A3", "header"))

	r := 4
	for invoice, date := range invoices {
		require.NoError(t, f.SetCellValue(sheet, cell("B", r), date))
		require.NoError(t, f.SetCellValue(sheet, cell("C", r), invoice))
		require.NoError(t, f.SetCellValue(sheet, cell("E", r), "Company"))
		require.NoError(t, f.SetCellValue(sheet, cell("H", r), "1000"))
		r++
	}

	require.NoError(t, f.SaveAs(path))
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func testEngine(t *testing.T, st store.Store, notifier Notifier) (*Engine, *config.Config) {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			OutputDir:  filepath.Join(base, "output"),
			ScratchDir: filepath.Join(base, "scratch"),
			ArchiveDir: "Archive",
		},
		Consolidation: config.ConsolidationConfig{
			ChunkYears: 4,
			HeaderRows: 3,
		},
	}
	tracker := progress.NewRegistry(16)
	return NewEngine(cfg, st, tracker, notifier, nil, slog.Default()), cfg
}

func TestEngine_Run_Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-200012345_SALE_01_2024.xlsx")
	writeDeclaration(t, path, "បញ្ជីលក់ របស់ ABC Co", map[string]string{
		"INV-001": "15-01-2024",
		"INV-002": "20-01-2024",
	})

	notifier := &recordingNotifier{}
	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, notifier)
	tracker := engine.tracker

	engine.Run(context.Background(), "run-1", "tester", []string{path})

	snap, ok := tracker.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.Equal(t, 100, snap.Percent)
	assert.Contains(t, snap.Detail, cfg.Paths.OutputDir)

	// master workbook and summary produced in the output directory
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "L001-200012345.xlsx"))
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, report.SummaryFilename))

	// source file archived under Archive/<TIN>/<year>/
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "Archive",
		"L001-200012345", "2024", filepath.Base(path)))

	rows, err := st.RowsForTaxpayer(context.Background(), "L001-200012345")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	last := notifier.last(t)
	assert.Equal(t, SeveritySuccess, last.Severity)
	assert.Equal(t, "tester", last.User)
}

func TestEngine_Run_NoValidFiles(t *testing.T) {
	notifier := &recordingNotifier{}
	engine, _ := testEngine(t, store.NewMemoryStore(), notifier)

	engine.Run(context.Background(), "run-empty", "tester",
		[]string{filepath.Join(t.TempDir(), "notes.txt")})

	snap, ok := engine.tracker.Get("run-empty")
	require.True(t, ok)
	assert.Equal(t, progress.PhaseError, snap.Phase)
	assert.Equal(t, 100, snap.Percent)
	assert.Contains(t, snap.Detail, "No valid sales files")

	assert.Equal(t, SeverityError, notifier.last(t).Severity)
}

func TestEngine_Run_ContainerWithoutSalesMembers(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "upload.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("purchases_01_2024.xlsx")
	require.NoError(t, err)
	_, err = w.Write([]byte("irrelevant"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	st := store.NewMemoryStore()
	engine, _ := testEngine(t, st, nil)

	require.NotPanics(t, func() {
		engine.Run(context.Background(), "run-nosales", "tester", []string{zipPath})
	})

	snap, ok := engine.tracker.Get("run-nosales")
	require.True(t, ok)
	assert.Equal(t, progress.PhaseError, snap.Phase)

	tins, err := st.Taxpayers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tins, "nothing may be imported from a container without sales members")
}

func TestEngine_Run_ZipInput(t *testing.T) {
	dir := t.TempDir()
	member := filepath.Join(dir, "K001-000000009_SALE_03_2023.xlsx")
	writeDeclaration(t, member, "បញ្ជីលក់ របស់ Zip Co", map[string]string{
		"INV-900": "10-03-2023",
	})

	zipPath := filepath.Join(dir, "upload.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create(filepath.Base(member))
	require.NoError(t, err)
	data, err := os.ReadFile(member)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, nil)

	engine.Run(context.Background(), "run-zip", "tester", []string{zipPath})

	snap, _ := engine.tracker.Get("run-zip")
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "K001-000000009.xlsx"))

	// extraction scratch space removed after the run
	_, err = os.Stat(filepath.Join(cfg.Paths.ScratchDir, "run-zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_Run_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-300099999_SALE_05_2024.xlsx")
	writeDeclaration(t, path, "បញ្ជីលក់ របស់ Twice Co", map[string]string{
		"INV-777": "05-05-2024",
	})

	st := store.NewMemoryStore()
	engine, _ := testEngine(t, st, nil)

	engine.Run(context.Background(), "run-a", "tester", []string{path})
	engine.Run(context.Background(), "run-b", "tester", []string{path})

	rows, err := st.RowsForTaxpayer(context.Background(), "L001-300099999")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "re-importing the same file must not duplicate rows")

	snap, _ := engine.tracker.Get("run-b")
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
}

func TestEngine_Run_BadFileSkipped(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "L001-400011111_SALE_06_2024.xlsx")
	writeDeclaration(t, good, "បញ្ជីលក់ របស់ Good Co", map[string]string{
		"INV-1": "01-06-2024",
	})
	bad := filepath.Join(dir, "L001-500022222_SALE_06_2024.xlsx")
	require.NoError(t, os.WriteFile(bad, []byte("not a workbook"), 0644))

	st := store.NewMemoryStore()
	engine, _ := testEngine(t, st, nil)

	engine.Run(context.Background(), "run-mixed", "tester", []string{good, bad})

	snap, _ := engine.tracker.Get("run-mixed")
	assert.Equal(t, progress.PhaseCompleted, snap.Phase,
		"a single unreadable file must not fail the run")

	rows, err := st.RowsForTaxpayer(context.Background(), "L001-400011111")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEngine_Start_ReturnsImmediately(t *testing.T) {
	engine, _ := testEngine(t, store.NewMemoryStore(), nil)

	runID := engine.Start(context.Background(), "tester", nil)
	require.NotEmpty(t, runID)

	// the run id is registered before Start returns
	_, ok := engine.tracker.Get(runID)
	assert.True(t, ok)

	// wait for the background run to reach a terminal phase
	require.Eventually(t, func() bool {
		snap, ok := engine.tracker.Get(runID)
		return ok && progress.IsTerminal(snap.Phase)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_RunAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-600033333_SALE_07_2024.xlsx")
	writeDeclaration(t, path, "បញ្ជីលក់ របស់ All Co", map[string]string{
		"INV-50": "07-07-2024",
	})

	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, nil)

	engine.Run(context.Background(), "seed", "tester", []string{path})
	require.NoError(t, os.RemoveAll(cfg.Paths.OutputDir))

	runID, err := engine.RunAll(context.Background(), "tester")
	require.NoError(t, err)

	// the rebuild runs detached; RunAll itself only registers the run
	_, ok := engine.tracker.Get(runID)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snap, ok := engine.tracker.Get(runID)
		return ok && progress.IsTerminal(snap.Phase)
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := engine.tracker.Get(runID)
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "L001-600033333.xlsx"))
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, report.SummaryFilename))
}

func TestEngine_RunAll_SurvivesCallerCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-800066666_SALE_02_2024.xlsx")
	writeDeclaration(t, path, "បញ្ជីលក់ របស់ Detached Co", map[string]string{
		"INV-60": "02-02-2024",
	})

	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, nil)
	engine.Run(context.Background(), "seed", "tester", []string{path})

	// a request-scoped context cancelled right after the call must not
	// abort the rebuild
	ctx, cancel := context.WithCancel(context.Background())
	runID, err := engine.RunAll(ctx, "tester")
	cancel()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := engine.tracker.Get(runID)
		return ok && progress.IsTerminal(snap.Phase)
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := engine.tracker.Get(runID)
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, "L001-800066666.xlsx"))
}

func TestEngine_Run_LaterFileSuppliesCompanyName(t *testing.T) {
	dir := t.TempDir()
	unnamed := filepath.Join(dir, "L001-700044444_SALE_01_2024.xlsx")
	writeDeclaration(t, unnamed, "", map[string]string{
		"INV-10": "10-01-2024",
	})
	named := filepath.Join(dir, "L001-700044444_SALE_02_2024.xlsx")
	writeDeclaration(t, named, "បញ្ជីលក់ របស់ Real Co", map[string]string{
		"INV-11": "11-02-2024",
	})

	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, nil)

	engine.Run(context.Background(), "run-name", "tester", []string{unnamed, named})

	snap, _ := engine.tracker.Get("run-name")
	require.Equal(t, progress.PhaseCompleted, snap.Phase)

	title := masterTitle(t, filepath.Join(cfg.Paths.OutputDir, "L001-700044444.xlsx"))
	assert.Contains(t, title, "Real Co",
		"a later file with a parseable title must supply the company name")
}

func TestEngine_Run_TINStandsInWhenNoTitleParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-700055555_SALE_03_2024.xlsx")
	writeDeclaration(t, path, "", map[string]string{
		"INV-20": "20-03-2024",
	})

	st := store.NewMemoryStore()
	engine, cfg := testEngine(t, st, nil)

	engine.Run(context.Background(), "run-tin", "tester", []string{path})

	title := masterTitle(t, filepath.Join(cfg.Paths.OutputDir, "L001-700055555.xlsx"))
	assert.Contains(t, title, "L001-700055555")
}

// masterTitle reads the A1 title cell of a master workbook's first sheet.
func masterTitle(t *testing.T, path string) string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	title, err := f.GetCellValue(f.GetSheetName(0), "A1")
	require.NoError(t, err)
	return title
}

func TestEngine_ResolveOutputDir_UserOverride(t *testing.T) {
	base := t.TempDir()
	userDir := filepath.Join(base, "per-user")

	engine, cfg := testEngine(t, store.NewMemoryStore(), nil)
	engine.settings = &StaticSettings{Dirs: map[string]string{"alice": userDir}}

	assert.Equal(t, userDir, engine.resolveOutputDir("alice"))
	assert.DirExists(t, userDir)
	assert.Equal(t, cfg.Paths.OutputDir, engine.resolveOutputDir("bob"))
}

func TestEngine_Run_RecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L001-200012345_SALE_01_2024.xlsx")
	writeDeclaration(t, path, "បញ្ជីលក់ របស់ ABC Co", map[string]string{
		"INV-001": "15-01-2024",
	})

	engine, _ := testEngine(t, store.NewMemoryStore(), nil)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	bm, err := infrastructure.CreateBusinessMetrics(mp.Meter("test"))
	require.NoError(t, err)
	engine.SetMetrics(bm)

	engine.Run(context.Background(), "run-metrics", "tester", []string{path})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counters := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					counters[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), counters["consolidation_runs_total"])
	assert.Equal(t, int64(1), counters["consolidation_files_imported_total"])
	assert.Equal(t, int64(1), counters["consolidation_rows_inserted_total"])
	assert.Equal(t, int64(1), counters["consolidation_taxpayers_total"])
}

func TestLogNotifier(t *testing.T) {
	n := &LogNotifier{Logger: slog.Default()}
	// must not panic on either severity
	n.Notify(context.Background(), "tester", "Title", "message", SeveritySuccess)
	n.Notify(context.Background(), "tester", "Title", "message", SeverityError)
}
