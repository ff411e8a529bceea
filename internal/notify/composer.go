// Package notify собирает тексты Telegram-уведомлений. Все функции
// детерминированы и не выполняют I/O: одинаковые входные данные дают
// одинаковый текст.
package notify

import (
	"fmt"
	"strings"

	"github.com/ibrokxim/bitrix-telegram/internal/model"
)

type statusTemplate struct {
	nameRU string
	nameUZ string
	bodyRU string
	bodyUZ string
	emoji  string
}

var statusTemplates = map[model.OrderStatus]statusTemplate{
	model.OrderStatusNew: {
		nameRU: "Новый", nameUZ: "Yangi", emoji: "🆕",
		bodyRU: "Ваш заказ успешно создан и принят в обработку. В ближайшее время с вами свяжется наш менеджер.",
		bodyUZ: "Buyurtmangiz muvaffaqiyatli yaratildi va qayta ishlashga qabul qilindi. Tez orada menejerimiz siz bilan bog'lanadi.",
	},
	model.OrderStatusProcessed: {
		nameRU: "В обработке", nameUZ: "Qayta ishlashda", emoji: "⚡️",
		bodyRU: "Мы начали обрабатывать ваш заказ. Наши специалисты проверяют наличие товаров и готовят их к отправке.",
		bodyUZ: "Buyurtmangizni qayta ishlashni boshladik. Mutaxassislarimiz tovarlar mavjudligini tekshirib, jo'natishga tayyorlamoqdalar.",
	},
	model.OrderStatusConfirmed: {
		nameRU: "Подтвержден", nameUZ: "Tasdiqlandi", emoji: "✅",
		bodyRU: "Ваш заказ подтвержден! Мы подготовили все товары и готовим их к отправке. Ожидайте информацию о доставке.",
		bodyUZ: "Buyurtmangiz tasdiqlandi! Barcha tovarlarni tayyorladik va jo'natishga tayyorlamoqdamiz. Yetkazib berish haqida ma'lumot kuting.",
	},
	model.OrderStatusShipped: {
		nameRU: "Отправлен", nameUZ: "Jo'natildi", emoji: "🚚",
		bodyRU: "Отличные новости! Ваш заказ уже в пути. Курьер доставит его по указанному адресу в ближайшее время.",
		bodyUZ: "Ajoyib yangilik! Buyurtmangiz yo'lda. Kuryer uni ko'rsatilgan manzilga yaqin vaqt ichida yetkazib beradi.",
	},
	model.OrderStatusDelivered: {
		nameRU: "Доставлен", nameUZ: "Yetkazildi", emoji: "📬",
		bodyRU: "Ваш заказ успешно доставлен! Спасибо за покупку. Надеемся, вам понравятся приобретенные товары.",
		bodyUZ: "Buyurtmangiz muvaffaqiyatli yetkazib berildi! Xarid uchun rahmat. Sotib olingan tovarlar sizga yoqadi degan umiddamiz.",
	},
	model.OrderStatusCompleted: {
		nameRU: "Завершен", nameUZ: "Yakunlandi", emoji: "🎉",
		bodyRU: "Заказ успешно завершен! Благодарим вас за выбор нашего магазина. Будем рады видеть вас снова!",
		bodyUZ: "Buyurtma muvaffaqiyatli yakunlandi! Do'konimizni tanlaganingiz uchun tashakkur. Sizni yana ko'rishdan xursand bo'lamiz!",
	},
	model.OrderStatusCanceled: {
		nameRU: "Отменен", nameUZ: "Bekor qilindi", emoji: "❌",
		bodyRU: "К сожалению, ваш заказ был отменен. Если у вас возникли вопросы, пожалуйста, свяжитесь с нашей службой поддержки.",
		bodyUZ: "Afsuski, buyurtmangiz bekor qilindi. Savollaringiz bo'lsa, iltimos, bizning qo'llab-quvvatlash xizmatimiz bilan bog'laning.",
	},
	model.OrderStatusRejected: {
		nameRU: "Отклонен", nameUZ: "Rad etildi", emoji: "🚫",
		bodyRU: "Ваш заказ был отклонен. Если у вас возникли вопросы, пожалуйста, свяжитесь с нашей службой поддержки.",
		bodyUZ: "Buyurtmangiz rad etildi. Savollaringiz bo'lsa, iltimos, bizning qo'llab-quvvatlash xizmatimiz bilan bog'laning.",
	},
}

// Composer строит тексты уведомлений для пользователей и админ-группы.
type Composer struct {
	miniAppURL string
}

// NewComposer создаёт Composer. miniAppURL подставляется в приветственные
// сообщения и сообщения об одобрении заявки.
func NewComposer(miniAppURL string) *Composer {
	return &Composer{miniAppURL: miniAppURL}
}

// MiniAppURL возвращает ссылку на мини-приложение магазина.
func (c *Composer) MiniAppURL() string {
	return c.miniAppURL
}

// StatusChanged строит уведомление о смене статуса заказа. Для статуса без
// шаблона возвращает общий текст об обновлении.
func (c *Composer) StatusChanged(order *model.Order, oldStatus, newStatus model.OrderStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📦 *Заказ #%d* | *Buyurtma #%d*\n\n", order.ID, order.ID)

	if len(order.Items) > 0 {
		b.WriteString("*Состав заказа:*\n")
		b.WriteString("*Buyurtma tarkibi:*\n")
		for _, item := range order.Items {
			fmt.Fprintf(&b, "• %s x %d шт. = %s сум\n", item.Name, item.Quantity, FormatAmount(item.Price*int64(item.Quantity)))
		}
		b.WriteString("\n")
	}

	tpl, ok := statusTemplates[newStatus]
	if !ok {
		fmt.Fprintf(&b, "ℹ️ *Статус заказа обновлен*\nℹ️ *Buyurtma holati yangilandi*")
		return b.String()
	}

	fmt.Fprintf(&b, "%s *Статус заказа: %s*\n%s\n\n", tpl.emoji, tpl.nameRU, tpl.bodyRU)
	fmt.Fprintf(&b, "%s *Buyurtma holati: %s*\n%s", tpl.emoji, tpl.nameUZ, tpl.bodyUZ)

	return b.String()
}

// OrderCreated строит уведомление о созданном заказе.
func (c *Composer) OrderCreated(order *model.Order) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🛒 *Ваш заказ #%d успешно создан!*\n\n", order.ID)
	b.WriteString("*Информация о заказе:*\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "- %s x %d = %s UZS\n", item.Name, item.Quantity, FormatAmount(item.Price*int64(item.Quantity)))
	}
	fmt.Fprintf(&b, "\n*Общая сумма:* %s UZS\n\n", FormatAmount(order.TotalAmount))
	b.WriteString("Ваш заказ принят и находится в обработке. Мы свяжемся с вами в ближайшее время.")

	return b.String()
}

// OrderAlert строит сообщение в админ-группу о новом заказе.
func (c *Composer) OrderAlert(order *model.Order, u *model.User) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🛒 Новый заказ #%d\n\n", order.ID)
	fmt.Fprintf(&b, "Покупатель: %s %s\n", u.FirstName, u.LastName)
	if u.Phone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", u.Phone)
	}
	if u.IsLegalEntity && u.CompanyName != "" {
		fmt.Fprintf(&b, "Компания: %s\n", u.CompanyName)
	}
	b.WriteString("\nСостав:\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "- %s x %d = %s UZS\n", item.Name, item.Quantity, FormatAmount(item.Price*int64(item.Quantity)))
	}
	fmt.Fprintf(&b, "\nСумма: %s UZS", FormatAmount(order.TotalAmount))

	return b.String()
}

// RegistrationRequest строит сообщение в админ-группу о новой заявке на доступ.
func (c *Composer) RegistrationRequest(u *model.User) string {
	var b strings.Builder

	b.WriteString("🆕 Новая заявка на доступ:\n\n")
	fmt.Fprintf(&b, "Имя: %s\n", u.FirstName)
	fmt.Fprintf(&b, "Фамилия: %s\n", u.SecondName)
	fmt.Fprintf(&b, "Отчество: %s\n", u.LastName)
	fmt.Fprintf(&b, "Телефон: %s\n", u.Phone)

	if u.IsLegalEntity {
		b.WriteString("Юр. лицо: Да\n")
		fmt.Fprintf(&b, "ИНН: %s\n", u.INN)
		fmt.Fprintf(&b, "Компания: %s\n", u.CompanyName)
		fmt.Fprintf(&b, "Должность: %s\n", u.Position)
	}

	b.WriteString("\nДействия:")

	return b.String()
}

// Approval строит сообщение пользователю об одобрении заявки.
func (c *Composer) Approval() string {
	return "🇷🇺 Ваш запрос одобрен! ✅\nНажмите на кнопку ниже, чтобы перейти в маркетплейс 👇\n\n" +
		"🇺🇿 So'rovingiz qabul qilindi! ✅\nMarketplace'ga o'tish uchun quyidagi tugmani bosing 👇"
}

// Rejection строит сообщение пользователю об отклонении заявки.
func (c *Composer) Rejection() string {
	return "🇷🇺 ❌ К сожалению, ваш запрос был отклонен.\nСвяжитесь с администратором для получения дополнительной информации.\n\n" +
		"🇺🇿 ❌ Afsuski, so'rovingiz rad etildi.\nQo'shimcha ma'lumot uchun administrator bilan bog'laning."
}

// Welcome строит приветственное сообщение для команды /start.
func (c *Composer) Welcome() string {
	return "🇷🇺 Добро пожаловать на наш маркетплейс! 👋\n" +
		"Чтобы получить доступ ко всем товарам, нажмите на кнопку ниже 👇 и пройдите регистрацию.\n\n" +
		"🇺🇿 Marketplace'imizga xush kelibsiz! 👋\n" +
		"Barcha mahsulotlarni ko'rish uchun quyidagi tugmani bosing 👇 va ro'yxatdan o'ting."
}

// FormatAmount форматирует сумму в тийинах как целые сумы с разделителем тысяч.
func FormatAmount(tiyin int64) string {
	sum := tiyin / 100

	digits := fmt.Sprintf("%d", sum)
	neg := false
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	}

	var b strings.Builder
	for i, ch := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(ch)
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}
