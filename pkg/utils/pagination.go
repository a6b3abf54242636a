package utils

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Pagination 分页请求参数
type Pagination struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

// PageResult 分页响应结果
type PageResult struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Normalize 修正非法的页码和每页数量
func (p *Pagination) Normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
}

// Result 组装分页结果
func (p *Pagination) Result(list interface{}, total int64) PageResult {
	return PageResult{List: list, Total: total, Page: p.Page, Limit: p.Limit}
}
