package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
	"github.com/ibrokxim/bitrix-telegram/internal/model"
	"github.com/ibrokxim/bitrix-telegram/internal/notify"
)

type stubRepo struct {
	upsertID  int64
	upsertErr error
	upserted  *model.User

	user    *model.User
	userErr error

	createdOrder *model.Order
	orderCount   int64

	statusSet  *model.UserStatus
	contactSet *string
	companySet *string

	boundDealID string
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) UpsertPendingUser(ctx context.Context, u model.User) (int64, error) {
	s.upserted = &u
	return s.upsertID, s.upsertErr
}

func (s *stubRepo) EnsureUserForChat(ctx context.Context, chatID int64) error { return nil }

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) UpdateUserStatus(ctx context.Context, id int64, status model.UserStatus) error {
	s.statusSet = &status
	return nil
}

func (s *stubRepo) SetBitrixIDs(ctx context.Context, userID int64, contactID, companyID *string) error {
	s.contactSet = contactID
	s.companySet = companyID
	return nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, userID int64, totalAmount int64, items []model.OrderItem) (*model.Order, error) {
	s.createdOrder = &model.Order{
		ID:          77,
		UserID:      userID,
		TotalAmount: totalAmount,
		Items:       items,
		Status:      model.OrderStatusNew,
	}
	return s.createdOrder, nil
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) CountOrdersByUser(ctx context.Context, userID int64) (int64, error) {
	return s.orderCount, nil
}

func (s *stubRepo) BindDealID(ctx context.Context, orderID int64, dealID string) error {
	s.boundDealID = dealID
	return nil
}

type stubCRM struct {
	dealID     string
	dealErr    error
	dealFields *bitrix.DealFields

	contactID string
	companyID string

	productRows []bitrix.ProductRow
}

func (c *stubCRM) CreateDeal(ctx context.Context, fields bitrix.DealFields) (string, error) {
	c.dealFields = &fields
	return c.dealID, c.dealErr
}

func (c *stubCRM) SetDealProducts(ctx context.Context, dealID string, rows []bitrix.ProductRow) error {
	c.productRows = rows
	return nil
}

func (c *stubCRM) CreateContact(ctx context.Context, fields bitrix.ContactFields) (string, error) {
	return c.contactID, nil
}

func (c *stubCRM) CreateCompany(ctx context.Context, fields bitrix.CompanyFields) (string, error) {
	return c.companyID, nil
}

type stubNotifier struct {
	sent       []string
	buttonURLs []string
	adminSent  []string
	approvals  []int64
}

func (n *stubNotifier) Send(ctx context.Context, chatID int64, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

func (n *stubNotifier) SendWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) error {
	n.sent = append(n.sent, text)
	n.buttonURLs = append(n.buttonURLs, buttonURL)
	return nil
}

func (n *stubNotifier) SendToAdmin(ctx context.Context, text string) error {
	n.adminSent = append(n.adminSent, text)
	return nil
}

func (n *stubNotifier) SendApprovalRequest(ctx context.Context, text string, userID int64) error {
	n.approvals = append(n.approvals, userID)
	return nil
}

func newTestService(repo *stubRepo, crm *stubCRM, n *stubNotifier) *Service {
	return NewService(repo, crm, n, notify.NewComposer(""), Options{
		FirstOrderCategoryID:  "1",
		RepeatOrderCategoryID: "5",
		AssignedByID:          17,
		CurrencyID:            "UZS",
	}, zap.NewNop())
}

func TestSubmitRegistrationValidation(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubCRM{}, &stubNotifier{})

	_, err := svc.SubmitRegistration(context.Background(), RegistrationInput{Phone: "abc"})
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}

	_, err = svc.SubmitRegistration(context.Background(), RegistrationInput{
		Phone:         "+998901234567",
		IsLegalEntity: true,
		INN:           "123",
	})
	if !errors.Is(err, ErrInvalidINN) {
		t.Fatalf("err = %v, want ErrInvalidINN", err)
	}
}

func TestSubmitRegistrationNotifiesAdmins(t *testing.T) {
	repo := &stubRepo{upsertID: 7}
	notifier := &stubNotifier{}
	svc := newTestService(repo, &stubCRM{}, notifier)

	u, err := svc.SubmitRegistration(context.Background(), RegistrationInput{
		FirstName: "Иван",
		Phone:     "+998901234567",
		ChatID:    555,
	})
	if err != nil {
		t.Fatalf("submit registration: %v", err)
	}
	if u.ID != 7 {
		t.Fatalf("user id = %d, want 7", u.ID)
	}
	if repo.upserted.Status != model.UserStatusPending {
		t.Fatalf("status = %s, want pending", repo.upserted.Status)
	}
	if len(notifier.approvals) != 1 || notifier.approvals[0] != 7 {
		t.Fatalf("approval requests = %v, want [7]", notifier.approvals)
	}
}

func TestApproveUserCreatesContactAndCompany(t *testing.T) {
	chat := int64(555)
	repo := &stubRepo{user: &model.User{
		ID:             7,
		FirstName:      "Иван",
		Phone:          "+998901234567",
		IsLegalEntity:  true,
		INN:            "305123456",
		CompanyName:    "ООО Ромашка",
		Status:         model.UserStatusPending,
		TelegramChatID: &chat,
	}}
	crm := &stubCRM{contactID: "301", companyID: "88"}
	notifier := &stubNotifier{}
	svc := newTestService(repo, crm, notifier)

	if err := svc.ApproveUser(context.Background(), 7); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if repo.contactSet == nil || *repo.contactSet != "301" {
		t.Fatalf("contact id not saved: %v", repo.contactSet)
	}
	if repo.companySet == nil || *repo.companySet != "88" {
		t.Fatalf("company id not saved: %v", repo.companySet)
	}
	if repo.statusSet == nil || *repo.statusSet != model.UserStatusApproved {
		t.Fatalf("status not set to approved")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("user messages = %d, want 1", len(notifier.sent))
	}
}

func TestApproveUserAttachesMiniAppButton(t *testing.T) {
	chat := int64(555)
	repo := &stubRepo{user: &model.User{
		ID:             7,
		Status:         model.UserStatusPending,
		TelegramChatID: &chat,
	}}
	notifier := &stubNotifier{}
	svc := NewService(repo, &stubCRM{contactID: "301"}, notifier,
		notify.NewComposer("https://t.me/examplebot/market"), Options{AssignedByID: 17}, zap.NewNop())

	if err := svc.ApproveUser(context.Background(), 7); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(notifier.buttonURLs) != 1 || notifier.buttonURLs[0] != "https://t.me/examplebot/market" {
		t.Fatalf("button urls = %v, want mini app url", notifier.buttonURLs)
	}
}

func TestApproveUserIdempotent(t *testing.T) {
	repo := &stubRepo{user: &model.User{ID: 7, Status: model.UserStatusApproved}}
	crm := &stubCRM{contactID: "301"}
	svc := newTestService(repo, crm, &stubNotifier{})

	if err := svc.ApproveUser(context.Background(), 7); err != nil {
		t.Fatalf("approve approved user: %v", err)
	}
	if repo.statusSet != nil {
		t.Fatalf("status updated on repeated approval")
	}
	if crm.dealFields != nil || repo.contactSet != nil {
		t.Fatalf("crm entities created on repeated approval")
	}
}

func TestPlaceOrderFirstVsRepeatPipeline(t *testing.T) {
	chat := int64(555)
	contact := "301"
	user := &model.User{
		ID:              7,
		FirstName:       "Иван",
		Status:          model.UserStatusApproved,
		BitrixContactID: &contact,
		TelegramChatID:  &chat,
	}
	items := []model.OrderItem{{ProductID: 1, Name: "Товар", Price: 15000000, Quantity: 2}}

	// Первый заказ уходит в воронку первичных продаж.
	repo := &stubRepo{user: user, orderCount: 1}
	crm := &stubCRM{dealID: "9001"}
	notifier := &stubNotifier{}
	svc := newTestService(repo, crm, notifier)

	order, err := svc.PlaceOrder(context.Background(), 555, items)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if crm.dealFields.CategoryID != "1" {
		t.Fatalf("category = %s, want first-order pipeline 1", crm.dealFields.CategoryID)
	}
	if order.TotalAmount != 30000000 {
		t.Fatalf("total = %d, want 30000000", order.TotalAmount)
	}
	if repo.boundDealID != "9001" {
		t.Fatalf("deal not bound: %q", repo.boundDealID)
	}
	if len(crm.productRows) != 1 || crm.productRows[0].Price != 150000 {
		t.Fatalf("product rows = %+v", crm.productRows)
	}
	if crm.dealFields.Opportunity != "300000.00" {
		t.Fatalf("opportunity = %s, want 300000.00", crm.dealFields.Opportunity)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "#77") {
		t.Fatalf("confirmation not sent: %v", notifier.sent)
	}
	if len(notifier.adminSent) != 1 || !strings.Contains(notifier.adminSent[0], "#77") {
		t.Fatalf("admin alert not sent: %v", notifier.adminSent)
	}

	// Повторный заказ уходит в основную воронку.
	repo = &stubRepo{user: user, orderCount: 2}
	crm = &stubCRM{dealID: "9002"}
	svc = newTestService(repo, crm, &stubNotifier{})

	if _, err := svc.PlaceOrder(context.Background(), 555, items); err != nil {
		t.Fatalf("place repeat order: %v", err)
	}
	if crm.dealFields.CategoryID != "5" {
		t.Fatalf("category = %s, want repeat pipeline 5", crm.dealFields.CategoryID)
	}
}

func TestPlaceOrderRequiresApproval(t *testing.T) {
	repo := &stubRepo{user: &model.User{ID: 7, Status: model.UserStatusPending}}
	svc := newTestService(repo, &stubCRM{}, &stubNotifier{})

	_, err := svc.PlaceOrder(context.Background(), 555, []model.OrderItem{{ProductID: 1, Quantity: 1}})
	if !errors.Is(err, ErrUserNotApproved) {
		t.Fatalf("err = %v, want ErrUserNotApproved", err)
	}
}

func TestPlaceOrderEmptyItems(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubCRM{}, &stubNotifier{})

	_, err := svc.PlaceOrder(context.Background(), 555, nil)
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("err = %v, want ErrEmptyOrder", err)
	}
}

func TestPlaceOrderDealFailureKeepsOrder(t *testing.T) {
	chat := int64(555)
	contact := "301"
	repo := &stubRepo{user: &model.User{
		ID:              7,
		Status:          model.UserStatusApproved,
		BitrixContactID: &contact,
		TelegramChatID:  &chat,
	}, orderCount: 1}
	crm := &stubCRM{dealErr: errors.New("bitrix24: QUERY_LIMIT_EXCEEDED")}
	svc := newTestService(repo, crm, &stubNotifier{})

	order, err := svc.PlaceOrder(context.Background(), 555, []model.OrderItem{{ProductID: 1, Price: 100, Quantity: 1}})
	if err == nil {
		t.Fatalf("expected error when deal creation fails")
	}
	if order == nil || order.ID != 77 {
		t.Fatalf("order must be returned even without deal, got %+v", order)
	}
	if repo.boundDealID != "" {
		t.Fatalf("deal bound despite failure: %q", repo.boundDealID)
	}
}
