package repository

import "errors"

var (
	// ErrProductNotFound продукта нет в хранилище остатков
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock остатка меньше запрошенного количества
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockNotLoaded быстрый счётчик для продукта ещё не загружен (или был сброшен)
	ErrStockNotLoaded = errors.New("stock counter not loaded")

	// ErrHoldNotFound холда нет (не создавался или уже завершён)
	ErrHoldNotFound = errors.New("hold not found")
	// ErrHoldConflict холд находится не в ожидаемом статусе
	ErrHoldConflict = errors.New("hold status conflict")

	// ErrOrderNotFound заказ не найден
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists заказ по этому холду уже создан
	ErrOrderExists = errors.New("order for hold already exists")
	// ErrHoldReleased запись расписания холда уже забрана при истечении, остаток возвращён
	ErrHoldReleased = errors.New("hold already released by expiration")
)
