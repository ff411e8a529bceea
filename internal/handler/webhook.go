package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrokxim/bitrix-telegram/internal/sync"
)

// dealEvent — распакованное событие исходящего вебхука Битрикс24.
type dealEvent struct {
	Event   string
	DealID  string
	StageID string
	Token   string
}

type dealEventJSON struct {
	Event string `json:"event"`
	Token string `json:"token"`
	Data  struct {
		Fields struct {
			ID      json.Number `json:"ID"`
			StageID string      `json:"STAGE_ID"`
		} `json:"FIELDS"`
	} `json:"data"`
	Auth struct {
		ApplicationToken string `json:"application_token"`
	} `json:"auth"`
}

// parseDealEvent понимает оба формата, в которых Битрикс24 шлёт события:
// JSON и form-encoded с ключами вида data[FIELDS][ID]. Токен может прийти
// в теле, в auth-блоке или параметром строки запроса; для form-encoded
// строка запроса попадает в r.Form при разборе.
func parseDealEvent(r *http.Request) (dealEvent, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body dealEventJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return dealEvent{}, err
		}
		token := body.Token
		if token == "" {
			token = body.Auth.ApplicationToken
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		return dealEvent{
			Event:   body.Event,
			DealID:  body.Data.Fields.ID.String(),
			StageID: body.Data.Fields.StageID,
			Token:   token,
		}, nil
	}

	if err := r.ParseForm(); err != nil {
		return dealEvent{}, err
	}
	token := r.Form.Get("token")
	if token == "" {
		token = r.Form.Get("auth[application_token]")
	}
	return dealEvent{
		Event:   r.Form.Get("event"),
		DealID:  r.Form.Get("data[FIELDS][ID]"),
		StageID: r.Form.Get("data[FIELDS][STAGE_ID]"),
		Token:   token,
	}, nil
}

// BitrixDealEvent принимает событие обновления сделки. Код ответа
// подсказывает Битрикс24, имеет ли смысл повторная доставка: постоянные
// исходы подтверждаются 200, временные получают 503.
func (h *Handler) BitrixDealEvent(w http.ResponseWriter, r *http.Request) {
	eventID := uuid.NewString()

	ev, err := parseDealEvent(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	token := r.Header.Get("X-Bitrix-Webhook-Token")
	if token == "" {
		token = ev.Token
	}
	if token != h.webhookToken {
		h.logger.Warn("webhook rejected: bad token",
			zap.String("event_id", eventID),
			zap.String("remote", r.RemoteAddr),
		)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	if ev.Event != "" && !strings.EqualFold(ev.Event, "ONCRMDEALUPDATE") {
		// Прочие события подтверждаются без обработки.
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}
	if ev.DealID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.logger.Info("deal event received",
		zap.String("event_id", eventID),
		zap.String("deal_id", ev.DealID),
		zap.String("stage_id", ev.StageID),
	)

	res := h.engine.ProcessStageEvent(r.Context(), sync.StageEvent{
		DealID:  ev.DealID,
		StageID: ev.StageID,
	})

	status := http.StatusOK
	switch res.Code {
	case sync.DealUnavailable, sync.ConcurrentUpdateExhausted:
		status = http.StatusServiceUnavailable
	case sync.InternalError:
		status = http.StatusInternalServerError
	}

	if res.Err != nil {
		h.logger.Error("deal event processing failed",
			zap.String("event_id", eventID),
			zap.String("deal_id", ev.DealID),
			zap.String("outcome", string(res.Code)),
			zap.Error(res.Err),
		)
	}

	writeJSON(w, status, map[string]string{"result": string(res.Code)})
}
