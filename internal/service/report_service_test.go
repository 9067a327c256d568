package service

import (
	"context"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

type recordingUploader struct {
	name string
	size int
}

func (u *recordingUploader) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	u.name = name
	u.size = len(data)
	return "https://files.example.com/" + name, nil
}

func newTestReportService(env testEnv, cache *redis.Client, uploader FileUploader) *reportService {
	svc := NewReportService(ReportDeps{
		Students: env.students,
		Fees:     env.fees,
		Payments: env.payments,
	}, testValidator(), cache, time.Minute, uploader, env.activity, time.UTC, testLogger()).(*reportService)
	svc.now = fixedNow
	return svc
}

func seedReportData(t *testing.T, env testEnv) (models.Student, models.Student) {
	t.Helper()
	guardian := env.guardian(t, "Helena Castro")
	zoe := env.student(t, "Zoé Castro", 300, guardian.ID)
	alvaro := env.student(t, "Álvaro Castro", 300, guardian.ID)

	fees := generateFees(t, env, zoe.ID, "2024-02", "2024-03", "2024-05", "2024-06")
	generateFees(t, env, alvaro.ID, "2024-05")

	_, err := env.feeService().Cancel(context.Background(), testActor(), fees[3].ID, dto.FeeCancelRequest{Reason: "desistência"})
	require.NoError(t, err)

	row := env.row(t, "rep-1", "HELENA CASTRO", "300.00", &guardian.ID)
	_, err = env.paymentService().RegisterFromStatement(context.Background(), testActor(), row.ID, dto.StatementPaymentRequest{StudentID: &zoe.ID, FeeID: &fees[0].ID})
	require.NoError(t, err)
	return zoe, alvaro
}

func TestFinancialReportBucketsInFixedOrder(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestReportService(env, nil, nil)
	zoe, alvaro := seedReportData(t, env)

	report, err := svc.FinancialReport(context.Background(), dto.FinancialReportRequest{IncludePayments: true})
	require.NoError(t, err)
	require.Equal(t, "2024-04-15", report.ReferenceOn)
	require.Len(t, report.Students, 2)
	require.Equal(t, alvaro.ID, report.Students[0].StudentID)
	require.Equal(t, zoe.ID, report.Students[1].StudentID)

	entry := report.Students[1]
	require.Len(t, entry.Buckets, 4)
	for index, bucket := range dto.ReportBuckets {
		require.Equal(t, bucket, entry.Buckets[index].Bucket)
	}
	require.Len(t, entry.Buckets[0].Fees, 1)
	require.Len(t, entry.Buckets[1].Fees, 1)
	require.Len(t, entry.Buckets[2].Fees, 1)
	require.Len(t, entry.Buckets[3].Fees, 1)
	require.True(t, decimal.NewFromInt(600).Equal(entry.Outstanding))
	require.Len(t, entry.Payments, 1)
	require.True(t, entry.Guardians[0].Financial)

	require.Len(t, report.Totals.Buckets, 4)
	require.Equal(t, dto.BucketOverdue, report.Totals.Buckets[0].Bucket)
	require.Equal(t, 5, report.Totals.Fees)
	require.True(t, decimal.NewFromInt(900).Equal(report.Totals.Outstanding))
}

func TestFinancialReportStatusFilterSkipsStudents(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestReportService(env, nil, nil)
	zoe, _ := seedReportData(t, env)

	report, err := svc.FinancialReport(context.Background(), dto.FinancialReportRequest{Statuses: []string{"overdue"}})
	require.NoError(t, err)
	require.Len(t, report.Students, 1)
	require.Equal(t, zoe.ID, report.Students[0].StudentID)
}

func bucketCount(report dto.FinancialReport, bucket string) int {
	for _, total := range report.Totals.Buckets {
		if total.Bucket == bucket {
			return total.Count
		}
	}
	return 0
}

func TestFinancialReportIsCached(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	env := newTestEnv(t)
	svc := newTestReportService(env, redisClient, nil)
	seedReportData(t, env)
	ctx := context.Background()

	first, err := svc.FinancialReport(ctx, dto.FinancialReportRequest{ClassIDs: []uint{}})
	require.NoError(t, err)
	require.Len(t, first.Students, 2)
	require.Len(t, server.Keys(), 1)

	cached, err := svc.FinancialReport(ctx, dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Equal(t, first.Totals.Fees, cached.Totals.Fees)
	require.True(t, first.Totals.Outstanding.Equal(cached.Totals.Outstanding))
	require.Len(t, server.Keys(), 1)

	svc.now = func() time.Time { return fixedNow().Add(24 * time.Hour) }
	nextDay, err := svc.FinancialReport(ctx, dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Len(t, server.Keys(), 2)
	require.Equal(t, first.Totals.Fees, nextDay.Totals.Fees)
}

func TestFinancialReportCacheFollowsWrites(t *testing.T) {
	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	env := newTestEnv(t)
	svc := newTestReportService(env, redisClient, nil)
	_, alvaro := seedReportData(t, env)
	ctx := context.Background()

	before, err := svc.FinancialReport(ctx, dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, bucketCount(before, dto.BucketCancelled))

	fees := env.feeService()
	fees.events = NewEventPublisher(redisClient, nil, "secretaria:events", testLogger())
	open, _, err := env.fees.List(ctx, repository.FeeFilter{StudentIDs: []uint{alvaro.ID}, OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	_, err = fees.Cancel(ctx, testActor(), open[0].ID, dto.FeeCancelRequest{Reason: "transferência"})
	require.NoError(t, err)

	generation, err := redisClient.Get(ctx, reportGenerationKey).Int64()
	require.NoError(t, err)
	require.Equal(t, int64(1), generation)

	after, err := svc.FinancialReport(ctx, dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, bucketCount(after, dto.BucketCancelled))
	require.Equal(t, bucketCount(before, dto.BucketUpcoming)-1, bucketCount(after, dto.BucketUpcoming))
}

func TestReportExportAndArchive(t *testing.T) {
	env := newTestEnv(t)
	seedReportData(t, env)
	ctx := context.Background()

	disabled := newTestReportService(env, nil, nil)
	_, err := disabled.Archive(ctx, testActor(), dto.FinancialReportRequest{})
	require.ErrorIs(t, err, ErrArchiveDisabled)

	file, err := disabled.ExportXLSX(ctx, dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Equal(t, "relatorio-financeiro-2024-04-15.xlsx", file.Name)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", file.ContentType)
	require.NotEmpty(t, file.Data)

	uploader := &recordingUploader{}
	archiving := newTestReportService(env, nil, uploader)
	resp, err := archiving.Archive(ctx, testActor(), dto.FinancialReportRequest{})
	require.NoError(t, err)
	require.Equal(t, file.Name, uploader.name)
	require.Equal(t, "https://files.example.com/"+file.Name, resp.URL)
	require.Positive(t, uploader.size)
}
