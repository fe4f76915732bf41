package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clearhsa/billscan/internal/model"
	"github.com/clearhsa/billscan/internal/store"
	"github.com/clearhsa/billscan/pkg/anthropic"
)

// mockOracle implements anthropic.Client.
type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// mockStore implements store.Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetReceipt(ctx context.Context, receiptID, userID string) (*model.Receipt, error) {
	args := m.Called(ctx, receiptID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Receipt), args.Error(1)
}

func (m *mockStore) SaveAnalysis(ctx context.Context, invoiceID, receiptID, userID string, result *model.AnalysisResult) (*model.BillReview, error) {
	args := m.Called(ctx, invoiceID, receiptID, userID, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BillReview), args.Error(1)
}

func (m *mockStore) ListReviews(ctx context.Context, userID string, limit int) ([]model.BillReview, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BillReview), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// mockFetcher implements fetcher.Fetcher.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

// mockNotifier implements notify.Notifier.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SyncProviderStats(ctx context.Context, invoiceID, billReviewID string) error {
	return m.Called(ctx, invoiceID, billReviewID).Error(0)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

const oracleResponse = `{
	"metadata": {
		"provider_name": {"value": "Lakeside Imaging", "confidence": 0.92},
		"total_amount": {"value": 430.00, "confidence": 0.9}
	},
	"errors": [
		{"error_type": "duplicate_charge", "error_category": "high_priority",
		 "description": "MRI billed twice", "potential_savings": 215.00,
		 "evidence": {"duplicate_count": 2, "charge_amount": 215.00}}
	],
	"total_potential_savings": 215.00,
	"confidence_score": 0.9
}`

func newTestAnalyzer(oracle *mockOracle, st *mockStore, f *mockFetcher, n *mockNotifier) *Analyzer {
	return New(oracle, st, f, n, Options{})
}

func TestAnalyze_Success(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", UserID: "user-1", FileURL: "https://storage.example.com/rc-1.pdf", MimeType: "application/pdf"}, nil)
	f.On("Fetch", mock.Anything, "https://storage.example.com/rc-1.pdf").
		Return([]byte("%PDF-1.4"), "application/pdf", nil)
	oracle.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 && len(req.Messages[0].Documents) == 1 &&
			req.Messages[0].Documents[0].MimeType == "application/pdf"
	})).Return(textResponse(oracleResponse), nil)
	st.On("SaveAnalysis", mock.Anything, "inv-1", "rc-1", "user-1", mock.Anything).
		Return(&model.BillReview{ID: "rev-1", InvoiceID: "inv-1"}, nil)
	n.On("SyncProviderStats", mock.Anything, "inv-1", "rev-1").Return(nil)

	a := newTestAnalyzer(oracle, st, f, n)
	summary, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, "rev-1", summary.BillReviewID)
	assert.Equal(t, 215.0, summary.Result.TotalPotentialSavings)
	require.Len(t, summary.Result.Errors, 1)
	oracle.AssertExpectations(t)
	st.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestAnalyze_NotifierFailureDoesNotFailRequest(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", FileURL: "https://storage.example.com/rc-1.pdf", MimeType: "application/pdf"}, nil)
	f.On("Fetch", mock.Anything, mock.Anything).Return([]byte("%PDF-1.4"), "application/pdf", nil)
	oracle.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(oracleResponse), nil)
	st.On("SaveAnalysis", mock.Anything, "inv-1", "rc-1", "user-1", mock.Anything).
		Return(&model.BillReview{ID: "rev-1"}, nil)
	n.On("SyncProviderStats", mock.Anything, "inv-1", "rev-1").
		Return(assert.AnError)

	a := newTestAnalyzer(oracle, st, f, n)
	summary, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "rev-1", summary.BillReviewID)
	n.AssertExpectations(t)
}

func TestAnalyze_ReceiptNotFound(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-missing", "user-1").
		Return(nil, store.ErrReceiptNotFound)

	a := newTestAnalyzer(oracle, st, f, n)
	_, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-missing", UserID: "user-1"})
	require.ErrorIs(t, err, store.ErrReceiptNotFound)
	oracle.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestAnalyze_DownloadFailure(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", FileURL: "https://storage.example.com/rc-1.pdf"}, nil)
	f.On("Fetch", mock.Anything, mock.Anything).Return(nil, "", assert.AnError)

	a := newTestAnalyzer(oracle, st, f, n)
	_, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.ErrorIs(t, err, ErrDownloadFailed)
	oracle.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestAnalyze_OracleRateLimitedWritesNothing(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", FileURL: "https://storage.example.com/rc-1.pdf", MimeType: "application/pdf"}, nil)
	f.On("Fetch", mock.Anything, mock.Anything).Return([]byte("%PDF-1.4"), "application/pdf", nil)
	oracle.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, anthropic.ErrRateLimited)

	a := newTestAnalyzer(oracle, st, f, n)
	_, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.ErrorIs(t, err, anthropic.ErrRateLimited)
	st.AssertNotCalled(t, "SaveAnalysis", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	n.AssertNotCalled(t, "SyncProviderStats", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_UnparseableResponseWritesNothing(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", FileURL: "https://storage.example.com/rc-1.pdf", MimeType: "application/pdf"}, nil)
	f.On("Fetch", mock.Anything, mock.Anything).Return([]byte("%PDF-1.4"), "application/pdf", nil)
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not find any structured data."), nil)

	a := newTestAnalyzer(oracle, st, f, n)
	_, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.ErrorIs(t, err, ErrParse)
	st.AssertNotCalled(t, "SaveAnalysis", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyze_MimeTypeFallsBackToContentType(t *testing.T) {
	oracle := new(mockOracle)
	st := new(mockStore)
	f := new(mockFetcher)
	n := new(mockNotifier)

	st.On("GetReceipt", mock.Anything, "rc-1", "user-1").
		Return(&model.Receipt{ID: "rc-1", FileURL: "https://storage.example.com/rc-1.jpg"}, nil)
	f.On("Fetch", mock.Anything, mock.Anything).Return([]byte{0xff, 0xd8}, "image/jpeg; charset=binary", nil)
	oracle.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Messages[0].Documents[0].MimeType == "image/jpeg"
	})).Return(textResponse(oracleResponse), nil)
	st.On("SaveAnalysis", mock.Anything, "inv-1", "rc-1", "user-1", mock.Anything).
		Return(&model.BillReview{ID: "rev-1"}, nil)
	n.On("SyncProviderStats", mock.Anything, "inv-1", "rev-1").Return(nil)

	a := newTestAnalyzer(oracle, st, f, n)
	_, err := a.Analyze(context.Background(), Request{InvoiceID: "inv-1", ReceiptID: "rc-1", UserID: "user-1"})
	require.NoError(t, err)
	oracle.AssertExpectations(t)
}

func TestNormalizeMimeType(t *testing.T) {
	assert.Equal(t, "image/png", normalizeMimeType("image/png"))
	assert.Equal(t, "image/jpeg", normalizeMimeType("IMAGE/JPEG; charset=binary"))
	assert.Equal(t, "application/pdf", normalizeMimeType("application/octet-stream"))
	assert.Equal(t, "application/pdf", normalizeMimeType(""))
}
