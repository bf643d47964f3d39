package service

import "errors"

var (
	// ErrInvalidQuantity количество должно быть положительным целым
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrInsufficientStock на складе не хватает товара
	ErrInsufficientStock = errors.New("insufficient quantity in stock")
	// ErrProductNotFound продукта нет в хранилище остатков
	ErrProductNotFound = errors.New("product not found")
	// ErrHoldNotFoundOrExpired холда нет, он истёк или уже подтверждён
	ErrHoldNotFoundOrExpired = errors.New("hold not found or expired")
	// ErrOrderCreateFailed холд подтверждён, но заказ записать не удалось
	ErrOrderCreateFailed = errors.New("failed to create order")
	// ErrOrderNotFound заказ не найден
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidWebhook в уведомлении не хватает обязательных полей
	ErrInvalidWebhook = errors.New("invalid webhook payload")
)
