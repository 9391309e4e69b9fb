package domain

const (
	// DefaultPageSize кол-во записей на странице по умолчанию
	DefaultPageSize = 20
	// MaxPageSize максимальное кол-во записей на странице
	MaxPageSize = 100
)

// Pager — offset-пагинация для списочных запросов.
type Pager struct {
	page, perPage int
}

func NewPager(page, perPage int) *Pager {
	return &Pager{page: page, perPage: perPage}
}

// Limit вернет SQL LIMIT
func (p *Pager) Limit() int64 {
	if p == nil || p.perPage == 0 {
		return DefaultPageSize
	}
	return min(MaxPageSize, int64(p.perPage))
}

// Page вернет номер страницы (с единицы).
func (p *Pager) Page() int {
	if p == nil || p.page < 1 {
		return 1
	}
	return p.page
}

// Offset вернет для SQL OFFSET
func (p *Pager) Offset() int64 {
	if p == nil || p.page <= 1 {
		return 0
	}
	return int64(p.page-1) * p.Limit()
}

// Pagination — метаданные страницы в ответе.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination считает метаданные по известному total.
func NewPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

// PaginatedResult результат пагинированного запроса
type PaginatedResult[T any] struct {
	Items      []T
	Pagination Pagination
}
