// Package bitrix предоставляет клиент REST-вебхука Битрикс24.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// APIError описывает ошибку, возвращённую самим API Битрикс24 (в отличие от
// транспортных сбоев).
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("bitrix24: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("bitrix24: %s", e.Code)
}

// Client инкапсулирует HTTP-взаимодействие с Битрикс24 через входящий вебхук.
// Временные сбои сети повторяются на уровне транспорта.
type Client struct {
	webhookURL string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент для указанного URL входящего вебхука
// (вида https://portal.bitrix24.kz/rest/1/xxxxxxxx/).
func NewClient(webhookURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		webhookURL: strings.TrimRight(webhookURL, "/") + "/",
		httpClient: rc,
	}
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if env.Error != "" {
		return &APIError{Code: env.Error, Description: env.ErrorDescription}
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}

	return nil
}

// Deal описывает сделку Битрикс24 в объёме, нужном для синхронизации статусов.
type Deal struct {
	ID          string `json:"ID"`
	Title       string `json:"TITLE"`
	StageID     string `json:"STAGE_ID"`
	CategoryID  string `json:"CATEGORY_ID"`
	Opportunity string `json:"OPPORTUNITY"`
	ContactID   string `json:"CONTACT_ID"`
}

// GetDeal запрашивает актуальное состояние сделки.
func (c *Client) GetDeal(ctx context.Context, dealID string) (*Deal, error) {
	var deal Deal
	err := c.call(ctx, "crm.deal.get", map[string]any{"id": dealID}, &deal)
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// DealFields содержит поля новой сделки.
type DealFields struct {
	Title        string `json:"TITLE"`
	ContactID    string `json:"CONTACT_ID,omitempty"`
	CompanyID    string `json:"COMPANY_ID,omitempty"`
	CategoryID   string `json:"CATEGORY_ID,omitempty"`
	AssignedByID int64  `json:"ASSIGNED_BY_ID,omitempty"`
	Opportunity  string `json:"OPPORTUNITY,omitempty"`
	CurrencyID   string `json:"CURRENCY_ID,omitempty"`
}

// CreateDeal создаёт сделку и возвращает её идентификатор.
func (c *Client) CreateDeal(ctx context.Context, fields DealFields) (string, error) {
	var id json.Number
	err := c.call(ctx, "crm.deal.add", map[string]any{"fields": fields}, &id)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ProductRow описывает товарную позицию сделки.
type ProductRow struct {
	ProductID   int64   `json:"PRODUCT_ID,omitempty"`
	ProductName string  `json:"PRODUCT_NAME"`
	Price       float64 `json:"PRICE"`
	Quantity    int     `json:"QUANTITY"`
}

// SetDealProducts записывает товарные позиции сделки.
func (c *Client) SetDealProducts(ctx context.Context, dealID string, rows []ProductRow) error {
	return c.call(ctx, "crm.deal.productrows.set", map[string]any{
		"id":   dealID,
		"rows": rows,
	}, nil)
}

// ContactFields содержит поля нового контакта.
type ContactFields struct {
	Name          string  `json:"NAME"`
	SecondName    string  `json:"SECOND_NAME,omitempty"`
	LastName      string  `json:"LAST_NAME,omitempty"`
	Phone         []Phone `json:"PHONE,omitempty"`
	SourceID      string  `json:"SOURCE_ID,omitempty"`
	TypeID        string  `json:"TYPE_ID,omitempty"`
	AssignedByID  int64   `json:"ASSIGNED_BY_ID,omitempty"`
	Opened        string  `json:"OPENED,omitempty"`
	Comments      string  `json:"COMMENTS,omitempty"`
	IsLegalEntity string  `json:"UF_CRM_IS_LEGAL_ENTITY,omitempty"`
	INN           string  `json:"UF_CRM_INN,omitempty"`
	CompanyName   string  `json:"UF_CRM_COMPANY_NAME,omitempty"`
	Position      string  `json:"UF_CRM_POSITION,omitempty"`
}

// Phone описывает телефон контакта в формате мультиполя Битрикс24.
type Phone struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

// CreateContact создаёт контакт и возвращает его идентификатор.
func (c *Client) CreateContact(ctx context.Context, fields ContactFields) (string, error) {
	var id json.Number
	err := c.call(ctx, "crm.contact.add", map[string]any{
		"fields": fields,
		"params": map[string]string{"REGISTER_SONET_EVENT": "Y"},
	}, &id)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CompanyFields содержит поля новой компании.
type CompanyFields struct {
	Title        string  `json:"TITLE"`
	CompanyType  string  `json:"COMPANY_TYPE,omitempty"`
	INN          string  `json:"UF_CRM_INN,omitempty"`
	Phone        []Phone `json:"PHONE,omitempty"`
	AssignedByID int64   `json:"ASSIGNED_BY_ID,omitempty"`
}

// CreateCompany создаёт компанию и возвращает её идентификатор.
func (c *Client) CreateCompany(ctx context.Context, fields CompanyFields) (string, error) {
	var id json.Number
	err := c.call(ctx, "crm.company.add", map[string]any{"fields": fields}, &id)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Section описывает раздел товарного каталога.
type Section struct {
	ID       json.Number `json:"ID"`
	IBlockID json.Number `json:"IBLOCK_ID"`
	Name     string      `json:"NAME"`
}

// ListSections возвращает активные разделы каталога.
func (c *Client) ListSections(ctx context.Context) ([]Section, error) {
	var sections []Section
	err := c.call(ctx, "catalog.section.list", map[string]any{
		"select": []string{"ID", "IBLOCK_ID", "NAME"},
		"filter": map[string]any{"active": "Y"},
		"order":  map[string]string{"ID": "ASC"},
	}, &sections)
	if err != nil {
		return nil, err
	}
	return sections, nil
}

// Product описывает товар каталога.
type Product struct {
	ID         json.Number `json:"ID"`
	Name       string      `json:"NAME"`
	Price      json.Number `json:"PRICE"`
	CurrencyID string      `json:"CURRENCY_ID"`
	SectionID  json.Number `json:"SECTION_ID"`
}

// ListProducts возвращает активные товары раздела.
func (c *Client) ListProducts(ctx context.Context, sectionID int64) ([]Product, error) {
	var products []Product
	err := c.call(ctx, "crm.product.list", map[string]any{
		"select": []string{"ID", "NAME", "PRICE", "CURRENCY_ID", "SECTION_ID"},
		"filter": map[string]any{"SECTION_ID": sectionID, "ACTIVE": "Y"},
		"order":  map[string]string{"ID": "ASC"},
	}, &products)
	if err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct возвращает один товар каталога.
func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var product Product
	err := c.call(ctx, "crm.product.get", map[string]any{"id": id}, &product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// RegisterDealUpdateHandler подписывает обработчик на событие обновления сделки.
func (c *Client) RegisterDealUpdateHandler(ctx context.Context, handlerURL string) error {
	return c.call(ctx, "event.bind", map[string]any{
		"event":     "ONCRMDEALUPDATE",
		"handler":   handlerURL,
		"auth_type": "webhook",
	}, nil)
}

// UnregisterDealUpdateHandler снимает подписку на событие обновления сделки.
func (c *Client) UnregisterDealUpdateHandler(ctx context.Context, handlerURL string) error {
	return c.call(ctx, "event.unbind", map[string]any{
		"event":   "ONCRMDEALUPDATE",
		"handler": handlerURL,
	}, nil)
}
