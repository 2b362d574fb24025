package matchdto

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	MinScore     = 1
	MaxScore     = 5
	DefaultScore = 3
)

// Page is one slice of a listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// Paging is embedded by every filter.
type Paging struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Normalize applies defaults and bounds.
func (p Paging) Normalize() Paging {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Paging) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

type MatchFilter struct {
	Paging
	MatchID       string `json:"matchId,omitempty"`
	GameMode      string `json:"gameMode,omitempty"`
	Winner        string `json:"winner,omitempty"`
	FinalizedOnly bool   `json:"finalizedOnly,omitempty"`
}

type PlayerFilter struct {
	Paging
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	Hero     string `json:"hero,omitempty"`
}

type CommentFilter struct {
	Paging
	MatchID   string `json:"matchId,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	MinScore  int    `json:"minScore,omitempty"`
	MaxScore  int    `json:"maxScore,omitempty"`
	HideEmpty bool   `json:"hideEmpty,omitempty"`
}

type SaveCommentRequest struct {
	MatchID    string `json:"matchId"`
	PlayerID   string `json:"playerId"`
	ReviewerID string `json:"reviewerId,omitempty"`
	Score      int    `json:"score"`
	Comment    string `json:"comment"`
}
