// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// IsValidINN проверяет корректность ИНН юридического лица: 9 цифр для
// узбекского формата либо 10 цифр с контрольным разрядом для российского.
func IsValidINN(inn string) bool {
	if inn == "" {
		return false
	}
	for _, ch := range inn {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	switch len(inn) {
	case 9:
		return true
	case 10:
		weights := []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
		sum := 0
		for i, w := range weights {
			sum += w * int(inn[i]-'0')
		}
		return sum%11%10 == int(inn[9]-'0')
	default:
		return false
	}
}

// IsValidPhone проверяет телефон: необязательный плюс и от 9 до 15 цифр.
func IsValidPhone(phone string) bool {
	p := strings.TrimPrefix(phone, "+")
	if len(p) < 9 || len(p) > 15 {
		return false
	}
	for _, ch := range p {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
