// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// NormalizeTrackNumber приводит трек-номер к каноническому виду:
// убирает пробелы по краям и переводит в верхний регистр.
func NormalizeTrackNumber(track string) string {
	return strings.ToUpper(strings.TrimSpace(track))
}

// IsValidTrackNumber проверяет формат трек-номера: от 6 до 32 символов,
// только латинские буквы, цифры и дефис.
func IsValidTrackNumber(track string) bool {
	track = NormalizeTrackNumber(track)
	if len(track) < 6 || len(track) > 32 {
		return false
	}

	for _, ch := range track {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsUpper(ch) && !unicode.IsDigit(ch) && ch != '-' {
			return false
		}
	}

	return true
}
