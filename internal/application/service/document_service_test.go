package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/workflow"
	"github.com/garyjia/docledger/internal/infrastructure/persistence/repository"
	"github.com/garyjia/docledger/internal/ledger"
	"github.com/garyjia/docledger/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const electricianInvoice = "Muster Elektro GmbH\n8001 Zürich\nUID CHE-109.322.551 MWST\n" +
	"Rechnung Nr. RE-2024-117\nDatum: 15.03.2024\nMWST 8.1% CHF 92.50\nTotal: CHF 1'234.50\n"

type mockTextSource struct {
	mock.Mock
}

func (m *mockTextSource) FetchText(ctx context.Context, documentID string) (entity.RawDocument, error) {
	args := m.Called(ctx, documentID)
	return args.Get(0).(entity.RawDocument), args.Error(1)
}

type fixture struct {
	docs    DocumentService
	ledger  LedgerService
	source  *mockTextSource
	stats   *metrics.DocumentStats
	journal *repository.JournalRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryItemStore()
	journal := repository.NewJournalRepository(store)
	source := &mockTextSource{}
	stats := metrics.NewDocumentStats()
	logger := zap.NewNop()

	docs := NewDocumentService(DocumentServiceDeps{
		Source:    source,
		Documents: repository.NewDocumentRepository(store),
		Journal:   journal,
		Recorder:  stats,
		Retry: RetryPolicy{
			Timeout:        time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}, logger)

	return &fixture{
		docs:    docs,
		ledger:  NewLedgerService(journal, nil, nil, 2, logger),
		source:  source,
		stats:   stats,
		journal: journal,
	}
}

func TestDocumentService_ProcessAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "inv-1", Text: electricianInvoice},
	})
	require.NoError(t, err)

	assert.Equal(t, port.DocumentAccepted, rec.Status)
	assert.Equal(t, entity.DirectionPurchase, rec.Direction)
	assert.Equal(t, entity.LangGerman, rec.Document.Language)
	require.NotNil(t, rec.Amounts)
	assert.Equal(t, "1234.50", rec.Amounts.Gross.StringFixed(2))
	assert.Equal(t, "92.50", rec.Amounts.VAT.StringFixed(2))
	assert.Equal(t, "1142.00", rec.Amounts.Net.StringFixed(2))
	assert.True(t, rec.Validation.Valid)

	stored, err := f.docs.GetDocument(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Status, stored.Status)

	snap := f.stats.Snapshot()
	assert.Equal(t, 1, snap.Documents)
	assert.Equal(t, 1, snap.ByStatus[port.DocumentAccepted])
	assert.Equal(t, "1234.50", snap.GrossByCurrency["CHF"].StringFixed(2))
}

func TestDocumentService_ProcessRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{Text: "Kiosk\nTotal CHF 108.10\n"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID, "id is generated")
	assert.Equal(t, port.DocumentRejected, rec.Status)
	assert.True(t, rec.Validation.Has(entity.KindMissingField))

	rejected, err := f.docs.ListDocuments(ctx, port.DocumentRejected, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	snap := f.stats.Snapshot()
	assert.Equal(t, 1, snap.LowConfidence)

	_, err = f.docs.ProcessDocument(ctx, ProcessRequest{Document: entity.RawDocument{Text: "  \n"}})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDocumentService_IngestRetries(t *testing.T) {
	f := newFixture(t)
	f.source.On("FetchText", mock.Anything, "scan-7").
		Return(entity.RawDocument{}, errors.New("connection reset")).Twice()
	f.source.On("FetchText", mock.Anything, "scan-7").
		Return(entity.RawDocument{ID: "scan-7", Text: electricianInvoice}, nil).Once()

	rec, err := f.docs.IngestDocument(context.Background(), "scan-7", entity.DirectionPurchase)
	require.NoError(t, err)
	assert.Equal(t, "scan-7", rec.ID)
	assert.Equal(t, port.DocumentAccepted, rec.Status)
	f.source.AssertNumberOfCalls(t, "FetchText", 3)
}

func TestDocumentService_IngestGivesUp(t *testing.T) {
	f := newFixture(t)
	f.source.On("FetchText", mock.Anything, "flaky").
		Return(entity.RawDocument{}, errors.New("timeout"))

	_, err := f.docs.IngestDocument(context.Background(), "flaky", entity.DirectionPurchase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	f.source.AssertNumberOfCalls(t, "FetchText", 3)
}

func TestDocumentService_IngestPermanentError(t *testing.T) {
	f := newFixture(t)
	f.source.On("FetchText", mock.Anything, "missing").
		Return(entity.RawDocument{}, port.ErrNotFound)

	_, err := f.docs.IngestDocument(context.Background(), "missing", entity.DirectionPurchase)
	assert.ErrorIs(t, err, port.ErrNotFound)
	f.source.AssertNumberOfCalls(t, "FetchText", 1)
}

func TestDocumentService_IngestHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.source.On("FetchText", mock.Anything, "slow").
		Run(func(mock.Arguments) { cancel() }).
		Return(entity.RawDocument{}, errors.New("interrupted"))

	_, err := f.docs.IngestDocument(ctx, "slow", entity.DirectionPurchase)
	assert.ErrorIs(t, err, context.Canceled)
	f.source.AssertNumberOfCalls(t, "FetchText", 1)
}

func TestDocumentService_BookAndPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "inv-1", Text: electricianInvoice},
	})
	require.NoError(t, err)

	entry, err := f.docs.CreateJournalEntry(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.EntryDraft, entry.Status)
	assert.Equal(t, "inv-1", entry.DocumentID)
	assert.Equal(t, 15, entry.Date.Day())
	assert.True(t, entry.IsBalanced())

	rec, err := f.docs.GetDocument(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, port.DocumentBooked, rec.Status)
	assert.Equal(t, entry.ID, rec.EntryID)

	_, err = f.docs.CreateJournalEntry(ctx, "inv-1")
	assert.ErrorIs(t, err, ErrDocumentBooked)

	report, err := f.ledger.Balances(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Entries, "drafts do not count")

	posted, err := f.ledger.ValidateEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EntryValidated, posted.Status)

	report, err = f.ledger.Balances(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, "1142.00", report.Balances["4400"].NetBalance.StringFixed(2))
	assert.Equal(t, "92.50", report.Balances["1170"].NetBalance.StringFixed(2))
	assert.Equal(t, "1234.50", report.Balances["2000"].NetBalance.StringFixed(2))
	assert.True(t, report.DebitTotal.Equal(report.CreditTotal))
}

func TestDocumentService_ConcurrentBookingCreatesOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.docs.ProcessDocument(ctx, ProcessRequest{
		Document: entity.RawDocument{ID: "inv-1", Text: electricianInvoice},
	})
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.docs.CreateJournalEntry(ctx, "inv-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	booked := 0
	for err := range errs {
		if err == nil {
			booked++
			continue
		}
		assert.ErrorIs(t, err, ErrDocumentBooked)
	}
	assert.Equal(t, 1, booked)

	entries, err := f.journal.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder of the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}

func TestDocumentService_BookRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.docs.ProcessDocument(ctx, ProcessRequest{Document: entity.RawDocument{Text: "Kiosk\nTotal CHF 108.10\n"}})
	require.NoError(t, err)

	_, err = f.docs.CreateJournalEntry(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrDocumentNotAccepted)

	_, err = f.docs.CreateJournalEntry(ctx, "nope")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestLedgerService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unbalanced := &entity.JournalEntry{Lines: []entity.JournalLine{
		{AccountNumber: "4400", Debit: dec("100.00")},
		{AccountNumber: "2000", Credit: dec("90.00")},
	}}
	require.NoError(t, f.ledger.CreateEntry(ctx, unbalanced))
	assert.NotEmpty(t, unbalanced.ID)
	assert.False(t, unbalanced.Date.IsZero())

	_, err := f.ledger.ValidateEntry(ctx, unbalanced.ID)
	assert.ErrorIs(t, err, ledger.ErrUnbalancedEntry)
	assert.ErrorIs(t, err, workflow.ErrGuardFailed)

	stored, err := f.ledger.GetEntry(ctx, unbalanced.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EntryDraft, stored.Status, "failed validation leaves the draft untouched")

	cancelled, err := f.ledger.CancelEntry(ctx, unbalanced.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EntryCancelled, cancelled.Status)

	_, err = f.ledger.ValidateEntry(ctx, unbalanced.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	err = f.ledger.CreateEntry(ctx, &entity.JournalEntry{Status: entity.EntryValidated})
	assert.ErrorIs(t, err, ErrNotDraft)

	all, err := f.ledger.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLedgerService_RollUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := &entity.JournalEntry{Lines: []entity.JournalLine{
		{AccountNumber: "1020", Debit: dec("500.00")},
		{AccountNumber: "1100", Credit: dec("500.00")},
	}}
	require.NoError(t, f.ledger.CreateEntry(ctx, entry))
	_, err := f.ledger.ValidateEntry(ctx, entry.ID)
	require.NoError(t, err)

	report, err := f.ledger.Balances(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.RolledUp)
	group, ok := report.Balances["10"]
	require.True(t, ok)
	assert.Equal(t, "0.00", group.NetBalance.StringFixed(2))
	assert.Equal(t, "500.00", group.DebitTotal.StringFixed(2))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 5*time.Second, p.backoff(4))
	assert.Equal(t, DefaultRetryPolicy.MaxAttempts, p.MaxAttempts)
}

func TestJittered(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		d := jittered(time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1, "waits must vary")
	assert.Equal(t, time.Duration(1), jittered(1))
}
