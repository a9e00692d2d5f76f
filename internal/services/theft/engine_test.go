package theft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/storage/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	theftmocks "github.com/BearBump/TagGuard/internal/services/theft/mocks"
)

type EngineSuite struct {
	suite.Suite

	store   *memstore.Storage
	catalog *theftmocks.MockCatalog
	channel *theftmocks.MockChannel
	engine  *Engine
	ctx     context.Context
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	s.catalog = &theftmocks.MockCatalog{}
	s.channel = &theftmocks.MockChannel{}
	s.engine = New(s.store, s.catalog, s.channel).WithConcurrency(2)
	s.engine.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	s.catalog.On("Lookup", mock.Anything, mock.Anything).Return(nil, models.ErrNotFound).Maybe()
}

func (s *EngineSuite) seedTag(epc string, paid bool) {
	now := time.Now().UTC()
	_, err := s.store.CreateTag(s.ctx, &models.TagRecord{EPC: epc, FirstSeen: now, LastSeen: now, IsPaid: paid})
	s.Require().NoError(err)
}

func (s *EngineSuite) seedUser(name string, optIn bool, storeID *uint64) uint64 {
	id, err := s.store.CreateUser(s.ctx, models.User{Name: name, Email: name + "@shop.test", ReceiveAlerts: optIn, StoreID: storeID})
	s.Require().NoError(err)
	return id
}

func (s *EngineSuite) alerts() []*models.TheftAlert {
	out, err := s.store.ListAlerts(s.ctx, false, 100)
	s.Require().NoError(err)
	return out
}

func (s *EngineSuite) TestUnknownTag_NoSignal() {
	ok, err := s.engine.CheckTagPaymentStatus(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().Empty(s.alerts())
	s.channel.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)
}

func (s *EngineSuite) TestPaidTag_NoAlert() {
	s.seedTag("E200AA", true)
	s.seedUser("alice", true, nil)

	ok, err := s.engine.CheckTagPaymentStatus(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().Empty(s.alerts())
}

func (s *EngineSuite) TestUnpaidTag_AlertsEveryStakeholder() {
	s.seedTag("E200AA", false)
	alice := s.seedUser("alice", true, nil)
	bob := s.seedUser("bob", true, nil)
	s.seedUser("carol", false, nil)

	s.channel.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	ok, err := s.engine.CheckTagPaymentStatus(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	s.Require().False(ok)

	alerts := s.alerts()
	s.Require().Len(alerts, 1)
	s.Require().Equal("E200AA", alerts[0].EPC)
	s.Require().Equal("exit", alerts[0].Location)
	s.Require().Equal("Unknown product", alerts[0].ProductDescription)

	recipients, err := s.store.ListRecipients(s.ctx, alerts[0].ID)
	s.Require().NoError(err)
	s.Require().Len(recipients, 2)
	s.Require().Equal(alice, recipients[0].UserID)
	s.Require().Equal(bob, recipients[1].UserID)
	for _, r := range recipients {
		s.Require().True(r.Delivered)
		s.Require().NotNil(r.DeliveredAt)
	}
	s.channel.AssertExpectations(s.T())
}

func (s *EngineSuite) TestDeliveryFailure_IsolatedPerRecipient() {
	s.seedTag("E200AA", false)
	alice := s.seedUser("alice", true, nil)
	bob := s.seedUser("bob", true, nil)

	s.channel.On("Send", mock.Anything, mock.MatchedBy(func(u *models.User) bool { return u.ID == alice }), mock.Anything).
		Return(errors.New("webhook down")).
		Once()
	s.channel.On("Send", mock.Anything, mock.MatchedBy(func(u *models.User) bool { return u.ID == bob }), mock.Anything).
		Return(nil).
		Once()

	res, err := s.engine.CheckTagPayment(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	s.Require().NotNil(res.Alert)
	s.Require().Equal(2, res.Alert.Recipients)
	s.Require().Equal(1, res.Alert.Delivered)
	s.Require().Equal(1, res.Alert.Failed)

	recipients, err := s.store.ListRecipients(s.ctx, res.Alert.Alert.ID)
	s.Require().NoError(err)
	s.Require().Len(recipients, 2)
	s.Require().False(recipients[0].Delivered)
	s.Require().True(recipients[1].Delivered)
	s.channel.AssertExpectations(s.T())
}

func (s *EngineSuite) TestStakeholders_FilteredByProductStore() {
	store1, store2 := uint64(1), uint64(2)
	s.seedTag("E200AA", false)
	global := s.seedUser("global", true, nil)
	local := s.seedUser("local", true, &store1)
	s.seedUser("other", true, &store2)

	s.catalog.ExpectedCalls = nil
	s.catalog.On("Lookup", mock.Anything, "E200AA").
		Return(&models.Product{Name: "Jacket", Description: "blue", StoreID: &store1}, nil).
		Once()

	var (
		mu       sync.Mutex
		payloads []notify.Payload
	)
	s.channel.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			payloads = append(payloads, args.Get(2).(notify.Payload))
			mu.Unlock()
		}).
		Return(nil)

	res, err := s.engine.CheckTagPayment(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	s.Require().Equal(2, res.Alert.Recipients)
	s.Require().Equal("Jacket - blue", res.Alert.Alert.ProductDescription)

	recipients, err := s.store.ListRecipients(s.ctx, res.Alert.Alert.ID)
	s.Require().NoError(err)
	s.Require().Len(recipients, 2)
	s.Require().Equal(global, recipients[0].UserID)
	s.Require().Equal(local, recipients[1].UserID)

	s.Require().Len(payloads, 2)
	s.Require().NotEqual(payloads[0].NotificationID, payloads[1].NotificationID)
	s.Require().Equal("Unpaid item Jacket - blue (E200AA) detected at exit", payloads[0].Message)
}

func (s *EngineSuite) TestRepeatedDetection_RaisesNewAlertEachTime() {
	s.seedTag("E200AA", false)

	for i := 0; i < 2; i++ {
		ok, err := s.engine.CheckTagPaymentStatus(s.ctx, "E200AA", "exit")
		s.Require().NoError(err)
		s.Require().False(ok)
	}
	s.Require().Len(s.alerts(), 2)
}

func (s *EngineSuite) TestGateScan_NonGateSkipped() {
	s.Require().NoError(s.store.UpsertReader(s.ctx, models.GateContext{ReaderID: "bath-1", ReaderType: "BATH", Location: "fitting"}))
	s.seedTag("E200AA", false)

	res, err := s.engine.CheckGateScan(s.ctx, "E200AA", "bath-1")
	s.Require().NoError(err)
	s.Require().Equal(GateSkipped, res.Status)
	s.Require().Equal(models.ReaderTypeBath, res.ReaderType)

	tag, err := s.store.FindTagByEPC(s.ctx, "E200AA")
	s.Require().NoError(err)
	s.Require().Equal(models.TagStatusActive, tag.Status)
	s.Require().Empty(s.alerts())
}

func (s *EngineSuite) TestGateScan_UnregisteredReaderSkipped() {
	res, err := s.engine.CheckGateScan(s.ctx, "E200AA", "nowhere")
	s.Require().NoError(err)
	s.Require().Equal(GateSkipped, res.Status)
	s.Require().Equal(models.ReaderTypeUnknown, res.ReaderType)
}

func (s *EngineSuite) TestGateScan_PaidMarkedSold() {
	s.Require().NoError(s.store.UpsertReader(s.ctx, models.GateContext{ReaderID: "gate-1", ReaderType: "GATE", Location: "exit A"}))
	s.seedTag("E200AA", true)

	res, err := s.engine.CheckGateScan(s.ctx, "E200AA", "gate-1")
	s.Require().NoError(err)
	s.Require().Equal(GateOK, res.Status)
	s.Require().Nil(res.Alert)

	tag, err := s.store.FindTagByEPC(s.ctx, "E200AA")
	s.Require().NoError(err)
	s.Require().Equal(models.TagStatusSold, tag.Status)
}

func (s *EngineSuite) TestGateScan_UnpaidMarkedStolen() {
	s.Require().NoError(s.store.UpsertReader(s.ctx, models.GateContext{ReaderID: "gate-1", ReaderType: "GATE", Location: "exit A"}))
	s.seedTag("E200AA", false)
	s.seedUser("alice", true, nil)
	s.channel.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	res, err := s.engine.CheckGateScan(s.ctx, "E200AA", "gate-1")
	s.Require().NoError(err)
	s.Require().Equal(GateAlert, res.Status)
	s.Require().NotNil(res.Alert)
	s.Require().Equal("exit A", res.Alert.Alert.Location)
	s.Require().Equal(1, res.Alert.Delivered)

	tag, err := s.store.FindTagByEPC(s.ctx, "E200AA")
	s.Require().NoError(err)
	s.Require().Equal(models.TagStatusStolen, tag.Status)
}

func (s *EngineSuite) TestGateScan_UnknownTagAlerts() {
	s.Require().NoError(s.store.UpsertReader(s.ctx, models.GateContext{ReaderID: "gate-1", ReaderType: "gate", Location: "exit A"}))

	res, err := s.engine.CheckGateScan(s.ctx, "E200FF", "gate-1")
	s.Require().NoError(err)
	s.Require().Equal(GateAlert, res.Status)
	s.Require().Len(s.alerts(), 1)
	s.Require().Equal(0, s.store.TagCount())
}

func (s *EngineSuite) TestResolveAlert() {
	s.seedTag("E200AA", false)
	_, err := s.engine.CheckTagPaymentStatus(s.ctx, "E200AA", "exit")
	s.Require().NoError(err)
	id := s.alerts()[0].ID

	by := uint64(7)
	notes := "false positive"
	a, err := s.engine.ResolveAlert(s.ctx, id, &by, &notes)
	s.Require().NoError(err)
	s.Require().True(a.Resolved)
	s.Require().Equal(by, *a.ResolvedBy)
	s.Require().Equal(notes, *a.Notes)

	again := "checked twice"
	a, err = s.engine.ResolveAlert(s.ctx, id, nil, &again)
	s.Require().NoError(err)
	s.Require().Nil(a.ResolvedBy)
	s.Require().Equal(again, *a.Notes)

	open, err := s.engine.ListAlerts(s.ctx, true, 10)
	s.Require().NoError(err)
	s.Require().Empty(open)
}

func (s *EngineSuite) TestResolveAlert_NotFound() {
	_, err := s.engine.ResolveAlert(s.ctx, 42, nil, nil)
	s.Require().ErrorIs(err, ErrAlertNotFound)
	s.Require().ErrorIs(err, models.ErrNotFound)

	_, err = s.engine.ResolveAlert(s.ctx, 0, nil, nil)
	s.Require().Error(err)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
