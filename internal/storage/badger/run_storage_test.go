package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// Test helper - setupTestStorage opens an in-memory database
func setupTestStorage(t *testing.T) (interfaces.RunStorage, func()) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.HistoryConfig{Path: ""})
	require.NoError(t, err)
	storage := NewRunStorage(db, logger)
	return storage, func() { _ = storage.Close() }
}

func testReport(runID string, started time.Time, statuses map[string]models.ScenarioStatus) *models.Report {
	rep := &models.Report{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Duration:   time.Minute,
		Mode:       models.ModeCI,
		BaseURL:    "https://typo3.example.org",
	}
	for id, status := range statuses {
		r := models.ScenarioResult{
			Instance: models.InstanceRef{ID: id, Scenario: id},
			Status:   status,
			Attempts: 1,
		}
		rep.Results = append(rep.Results, r)
		rep.Summary.Add(&r)
	}
	rep.ExitCode = models.ExitCodeFor(rep.Results)
	return rep
}

func TestRunStorage_SaveAndGet(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	rep := testReport("run-1", time.Now().Add(-time.Hour), map[string]models.ScenarioStatus{
		"homepage/load[chromium/desktop/de-DE]": models.StatusPassed,
		"forms/search[chromium/desktop/de-DE]":  models.StatusFailed,
	})
	require.NoError(t, storage.SaveRun(ctx, rep))

	stored, err := storage.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", stored.RunID)
	assert.Equal(t, 1, stored.ExitCode)
	assert.Len(t, stored.Results, 2)
	assert.Equal(t, 2, stored.Summary.Total)
	assert.Equal(t, 1, stored.Summary.Failed)

	_, err = storage.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRunStorage_ListRunsNewestFirst(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < 4; i++ {
		rep := testReport(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour), map[string]models.ScenarioStatus{
			"homepage/load": models.StatusPassed,
		})
		require.NoError(t, storage.SaveRun(ctx, rep))
	}

	runs, err := storage.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-0", runs[3].ID)

	limited, err := storage.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-3", limited[0].ID)
	assert.Equal(t, "run-2", limited[1].ID)
}

func TestRunStorage_InstanceHistory(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	const id = "multilingual/hreflang[chromium/desktop/en-US]"
	base := time.Now().Add(-time.Hour)
	statuses := []models.ScenarioStatus{models.StatusPassed, models.StatusFailed, models.StatusPassed}
	for i, status := range statuses {
		rep := testReport(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), map[string]models.ScenarioStatus{
			id:              status,
			"homepage/load": models.StatusPassed,
		})
		require.NoError(t, storage.SaveRun(ctx, rep))
	}

	history, err := storage.InstanceHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "run-2", history[0].RunID)
	assert.Equal(t, models.StatusPassed, history[0].Status)
	assert.Equal(t, "run-1", history[1].RunID)
	assert.Equal(t, models.StatusFailed, history[1].Status)

	latest, err := storage.InstanceHistory(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "run-2", latest[0].RunID)

	none, err := storage.InstanceHistory(ctx, "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunStorage_Prune(t *testing.T) {
	storage, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rep := testReport(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), map[string]models.ScenarioStatus{
			"homepage/load": models.StatusPassed,
		})
		require.NoError(t, storage.SaveRun(ctx, rep))
	}

	pruned, err := storage.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	runs, err := storage.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)

	// Instance records of pruned runs are gone too
	history, err := storage.InstanceHistory(ctx, "homepage/load", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	pruned, err = storage.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
}
