package utils

import (
	"math"
)

// math.go - математические утилиты для торговых операций
//
// Назначение:
// Вспомогательные математические функции для расчёта объёмов,
// прибыли и ценовых изменений. Все функции являются чистыми
// (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToLotSize: округление до lot size площадки
// - PercentChange: изменение цены в процентах
// - CalculatePNL: прибыль/убыток позиции

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага площадки.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Параметры:
//   - value: исходное значение (объём в монетах актива)
//   - lotSize: минимальный шаг изменения объёма
//
// Возвращает:
//   - Округлённое значение, кратное lotSize
//   - Если lotSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// math.Floor: округление вниз безопаснее для торговли
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём (например, для minQty).
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// PercentChange возвращает изменение цены в процентах от from к to.
//
// Отрицательный результат означает падение.
//
// Примеры:
//   - PercentChange(100, 98) = -2.0
//   - PercentChange(50000, 51500) = 3.0
func PercentChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

// DropPercent возвращает величину падения от from к to как
// положительное число процентов. Рост даёт 0.
//
// Примеры:
//   - DropPercent(100, 98) = 2.0
//   - DropPercent(100, 103) = 0
func DropPercent(from, to float64) float64 {
	change := PercentChange(from, to)
	if change >= 0 {
		return 0
	}
	return -change
}

// CalculatePNL расчитывает прибыль/убыток по позиции.
//
// Формулы:
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
//
// Параметры:
//   - side: "LONG" или "SHORT"
//   - entryPrice: цена входа
//   - currentPrice: текущая/выходная цена
//   - quantity: объём позиции
//
// Возвращает:
//   - PNL в валюте котировки (обычно USDT)
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	switch side {
	case "LONG":
		// Лонг: прибыль если цена выросла
		return (currentPrice - entryPrice) * quantity
	case "SHORT":
		// Шорт: прибыль если цена упала
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// StandardDeviation вычисляет стандартное отклонение выборки.
//
// Используется детектором обвалов для оценки волатильности
// и полосами Боллинджера. Пустая выборка даёт 0.
func StandardDeviation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}

	return math.Sqrt(sqSum / float64(len(values)-1))
}

// Mean возвращает среднее арифметическое выборки, 0 для пустой.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
