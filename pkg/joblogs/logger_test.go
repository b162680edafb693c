package joblogs

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/migrations"
	"github.com/shishobooks/spines/pkg/models"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newTestLogger(t *testing.T) (*Service, *JobLogger, int) {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeIngest, DataParsed: &models.JobIngestData{Contributor: "alice"}}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	svc := NewService(db)
	return svc, svc.NewJobLogger(ctx, job.ID, logger.New()), job.ID
}

func TestJobLogger_PersistsLevels(t *testing.T) {
	svc, jl, jobID := newTestLogger(t)
	ctx := context.Background()

	jl.Info("starting", logger.Data{"files": 3})
	jl.Warn("slow extraction", nil)
	jl.Error("extraction blew up", errors.New("boom"), logger.Data{"filename": "a.pdf"})

	logs, err := svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: jobID})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.JobLogLevelInfo, logs[0].Level)
	require.NotNil(t, logs[0].Data)
	assert.JSONEq(t, `{"files":3}`, *logs[0].Data)
	assert.Nil(t, logs[1].Data)
	assert.NotNil(t, logs[2].StackTrace)

	afterID := logs[0].ID
	logs, err = svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: jobID, AfterID: &afterID, Levels: []string{models.JobLogLevelError}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "extraction blew up", logs[0].Message)
}

func TestJobLogger_Event(t *testing.T) {
	svc, jl, jobID := newTestLogger(t)

	jl.Event(progress.Ping("still here"))
	jl.Event(progress.Start([]string{"a.epub", "b.pdf"}))
	jl.Event(progress.Progress(1, 2, "a.epub"))
	jl.Event(progress.FileComplete(1, 2, "a.epub", progress.StatusSuccess, "", "7"))
	jl.Event(progress.FileComplete(2, 2, "b.pdf", progress.StatusFailed, "file_missing", ""))
	jl.Event(progress.Complete(1, 0, 1))

	logs, err := svc.ListJobLogs(context.Background(), ListJobLogsOptions{JobID: jobID})
	require.NoError(t, err)
	require.Len(t, logs, 4)

	messages := []string{}
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Equal(t, []string{"ingest run started", "file complete", "file failed", "ingest run complete"}, messages)
	assert.Equal(t, models.JobLogLevelWarn, logs[2].Level)
	assert.Contains(t, *logs[2].Data, `"reason":"file_missing"`)
	assert.Contains(t, *logs[3].Data, `"failed_count":1`)
}

func TestTruncateMiddle(t *testing.T) {
	long := strings.Repeat("a", 600) + strings.Repeat("b", 600)
	got := truncateMiddle(long, maxDataValueLen)
	assert.LessOrEqual(t, len(got), maxDataValueLen)
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "bbb"))
	assert.Contains(t, got, " ... ")
}
