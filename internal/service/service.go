// Package service реализует бизнес-логику магазина: регистрацию покупателей,
// их модерацию и оформление заказов с созданием сделок в Битрикс24.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/bitrix"
	"github.com/ibrokxim/bitrix-telegram/internal/model"
	"github.com/ibrokxim/bitrix-telegram/internal/notify"
	"github.com/ibrokxim/bitrix-telegram/internal/repository"
	"github.com/ibrokxim/bitrix-telegram/internal/validation"
)

var (
	ErrInvalidPhone    = errors.New("некорректный номер телефона")
	ErrInvalidINN      = errors.New("некорректный ИНН")
	ErrUserNotApproved = errors.New("пользователь не прошёл модерацию")
	ErrEmptyOrder      = errors.New("заказ не содержит позиций")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	UpsertPendingUser(ctx context.Context, u model.User) (int64, error)
	EnsureUserForChat(ctx context.Context, chatID int64) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error)
	UpdateUserStatus(ctx context.Context, id int64, status model.UserStatus) error
	SetBitrixIDs(ctx context.Context, userID int64, contactID, companyID *string) error
	CreateOrder(ctx context.Context, userID int64, totalAmount int64, items []model.OrderItem) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	CountOrdersByUser(ctx context.Context, userID int64) (int64, error)
	BindDealID(ctx context.Context, orderID int64, dealID string) error
}

// CRM покрывает методы Битрикс24, используемые при регистрации и оформлении.
type CRM interface {
	CreateDeal(ctx context.Context, fields bitrix.DealFields) (string, error)
	SetDealProducts(ctx context.Context, dealID string, rows []bitrix.ProductRow) error
	CreateContact(ctx context.Context, fields bitrix.ContactFields) (string, error)
	CreateCompany(ctx context.Context, fields bitrix.CompanyFields) (string, error)
}

// Notifier доставляет сообщения в Telegram.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) error
	SendToAdmin(ctx context.Context, text string) error
	SendApprovalRequest(ctx context.Context, text string, userID int64) error
}

// Options задаёт параметры воронок и реквизиты сделок.
type Options struct {
	// FirstOrderCategoryID — воронка для первого заказа покупателя,
	// RepeatOrderCategoryID — для повторных.
	FirstOrderCategoryID  string
	RepeatOrderCategoryID string
	AssignedByID          int64
	CurrencyID            string
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	crm      CRM
	notifier Notifier
	composer *notify.Composer
	opts     Options
	logger   *zap.Logger
}

// NewService создаёт новый сервис.
func NewService(repo Repository, crm CRM, notifier Notifier, composer *notify.Composer, opts Options, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		crm:      crm,
		notifier: notifier,
		composer: composer,
		opts:     opts,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegistrationInput содержит данные анкеты покупателя.
type RegistrationInput struct {
	FirstName     string `json:"first_name"`
	SecondName    string `json:"second_name"`
	LastName      string `json:"last_name"`
	Phone         string `json:"phone"`
	IsLegalEntity bool   `json:"is_legal_entity"`
	INN           string `json:"inn"`
	CompanyName   string `json:"company_name"`
	Position      string `json:"position"`
	ChatID        int64  `json:"chat_id"`
}

// SubmitRegistration сохраняет заявку со статусом pending и отправляет её
// администраторам на модерацию. Повторная отправка с того же чата обновляет
// анкету, не создавая дубликата.
func (s *Service) SubmitRegistration(ctx context.Context, in RegistrationInput) (*model.User, error) {
	if !validation.IsValidPhone(in.Phone) {
		return nil, ErrInvalidPhone
	}
	if in.IsLegalEntity && !validation.IsValidINN(in.INN) {
		return nil, ErrInvalidINN
	}

	u := model.User{
		FirstName:     in.FirstName,
		SecondName:    in.SecondName,
		LastName:      in.LastName,
		Phone:         in.Phone,
		IsLegalEntity: in.IsLegalEntity,
		INN:           in.INN,
		CompanyName:   in.CompanyName,
		Position:      in.Position,
		Status:        model.UserStatusPending,
	}
	if in.ChatID != 0 {
		u.TelegramChatID = &in.ChatID
	}

	id, err := s.repo.UpsertPendingUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("save registration: %w", err)
	}
	u.ID = id

	if err := s.notifier.SendApprovalRequest(ctx, s.composer.RegistrationRequest(&u), id); err != nil {
		// Заявка уже сохранена, администраторы увидят её при следующей.
		s.logger.Error("failed to notify admins about registration",
			zap.Int64("user_id", id),
			zap.Error(err),
		)
	}

	return &u, nil
}

// ApproveUser одобряет заявку: создаёт контакт (и компанию для юрлица)
// в Битрикс24, сохраняет их идентификаторы и уведомляет покупателя.
// Повторное одобрение уже одобренного пользователя ничего не делает.
func (s *Service) ApproveUser(ctx context.Context, userID int64) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Status == model.UserStatusApproved {
		return nil
	}

	contactFields := bitrix.ContactFields{
		Name:         u.FirstName,
		SecondName:   u.SecondName,
		LastName:     u.LastName,
		SourceID:     "WEBFORM",
		TypeID:       "CLIENT",
		AssignedByID: s.opts.AssignedByID,
		Opened:       "Y",
		Position:     u.Position,
	}
	if u.Phone != "" {
		contactFields.Phone = []bitrix.Phone{{Value: u.Phone, ValueType: "WORK"}}
	}
	if u.IsLegalEntity {
		contactFields.IsLegalEntity = "1"
		contactFields.INN = u.INN
		contactFields.CompanyName = u.CompanyName
	}

	contactID, err := s.crm.CreateContact(ctx, contactFields)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}

	var companyID *string
	if u.IsLegalEntity {
		id, err := s.crm.CreateCompany(ctx, bitrix.CompanyFields{
			Title:        u.CompanyName,
			CompanyType:  "CUSTOMER",
			INN:          u.INN,
			Phone:        contactFields.Phone,
			AssignedByID: s.opts.AssignedByID,
		})
		if err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		companyID = &id
	}

	if err := s.repo.SetBitrixIDs(ctx, userID, &contactID, companyID); err != nil {
		return fmt.Errorf("save bitrix ids: %w", err)
	}
	if err := s.repo.UpdateUserStatus(ctx, userID, model.UserStatusApproved); err != nil {
		return fmt.Errorf("approve user: %w", err)
	}

	s.logger.Info("user approved",
		zap.Int64("user_id", userID),
		zap.String("contact_id", contactID),
	)

	if u.TelegramChatID != nil {
		if err := s.sendApproval(ctx, *u.TelegramChatID); err != nil {
			s.logger.Error("failed to send approval message", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// sendApproval отправляет покупателю сообщение об одобрении. Если настроен
// адрес мини-приложения, к сообщению прикрепляется кнопка входа в магазин.
func (s *Service) sendApproval(ctx context.Context, chatID int64) error {
	if url := s.composer.MiniAppURL(); url != "" {
		return s.notifier.SendWithButton(ctx, chatID, s.composer.Approval(), "Открыть магазин", url)
	}
	return s.notifier.Send(ctx, chatID, s.composer.Approval())
}

// RejectUser отклоняет заявку и уведомляет покупателя.
func (s *Service) RejectUser(ctx context.Context, userID int64) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateUserStatus(ctx, userID, model.UserStatusRejected); err != nil {
		return fmt.Errorf("reject user: %w", err)
	}

	if u.TelegramChatID != nil {
		if err := s.notifier.Send(ctx, *u.TelegramChatID, s.composer.Rejection()); err != nil {
			s.logger.Error("failed to send rejection message", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// CheckAuth возвращает пользователя по идентификатору чата.
func (s *Service) CheckAuth(ctx context.Context, chatID int64) (*model.User, error) {
	return s.repo.GetUserByChatID(ctx, chatID)
}

// RegisterChat фиксирует чат пользователя при первом обращении к боту.
func (s *Service) RegisterChat(ctx context.Context, chatID int64) error {
	return s.repo.EnsureUserForChat(ctx, chatID)
}

// GetOrdersByUser возвращает заказы покупателя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// PlaceOrder оформляет заказ: сохраняет его, создаёт сделку в Битрикс24,
// привязывает её к заказу и уведомляет покупателя. Первый заказ покупателя
// попадает в отдельную воронку.
func (s *Service) PlaceOrder(ctx context.Context, chatID int64, items []model.OrderItem) (*model.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	u, err := s.repo.GetUserByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if u.Status != model.UserStatusApproved || u.BitrixContactID == nil {
		return nil, ErrUserNotApproved
	}

	var total int64
	for _, it := range items {
		total += it.Price * int64(it.Quantity)
	}

	order, err := s.repo.CreateOrder(ctx, u.ID, total, items)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	count, err := s.repo.CountOrdersByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	categoryID := s.opts.RepeatOrderCategoryID
	if count <= 1 {
		categoryID = s.opts.FirstOrderCategoryID
	}

	fields := bitrix.DealFields{
		Title:        fmt.Sprintf("Заказ #%d — %s %s", order.ID, u.FirstName, u.LastName),
		ContactID:    *u.BitrixContactID,
		CategoryID:   categoryID,
		AssignedByID: s.opts.AssignedByID,
		Opportunity:  fmt.Sprintf("%.2f", float64(total)/100),
		CurrencyID:   s.opts.CurrencyID,
	}
	if u.BitrixCompanyID != nil {
		fields.CompanyID = *u.BitrixCompanyID
	}

	dealID, err := s.crm.CreateDeal(ctx, fields)
	if err != nil {
		// Заказ сохранён, но без сделки: возвращаем ошибку, чтобы клиент
		// повторил запрос, а дубликат заказа не создавался на его стороне.
		return order, fmt.Errorf("create deal for order %d: %w", order.ID, err)
	}

	rows := make([]bitrix.ProductRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, bitrix.ProductRow{
			ProductID:   it.ProductID,
			ProductName: it.Name,
			Price:       float64(it.Price) / 100,
			Quantity:    it.Quantity,
		})
	}
	if err := s.crm.SetDealProducts(ctx, dealID, rows); err != nil {
		s.logger.Error("failed to set deal products",
			zap.String("deal_id", dealID),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}

	if err := s.repo.BindDealID(ctx, order.ID, dealID); err != nil {
		if errors.Is(err, repository.ErrDuplicateDealBinding) {
			return order, err
		}
		return order, fmt.Errorf("bind deal %s to order %d: %w", dealID, order.ID, err)
	}
	order.BitrixDealID = &dealID

	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("deal_id", dealID),
		zap.String("category_id", categoryID),
	)

	if u.TelegramChatID != nil {
		if err := s.notifier.Send(ctx, *u.TelegramChatID, s.composer.OrderCreated(order)); err != nil {
			s.logger.Error("failed to send order confirmation", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	if err := s.notifier.SendToAdmin(ctx, s.composer.OrderAlert(order, u)); err != nil {
		s.logger.Error("failed to notify admins about order", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}
