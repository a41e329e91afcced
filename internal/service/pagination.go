package service

import (
	"fmt"
	"math"
)

// Параметры пагинации по умолчанию.
const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// clampPage нормализует limit и offset.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// totalPages — число страниц для total записей.
func totalPages(total, limit int) int {
	if limit <= 0 || total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// pageOffset переводит номер страницы (с 1) в offset.
// Номер, при котором offset не помещается в int, считается ошибкой ввода.
func pageOffset(page, limit int) (int, error) {
	if page < 1 {
		page = 1
	}
	if page-1 > (math.MaxInt-limit)/limit {
		return 0, fmt.Errorf("%w: номер страницы %d слишком велик", ErrValidation, page)
	}
	return (page - 1) * limit, nil
}
