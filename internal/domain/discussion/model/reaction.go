package model

import (
	"encoding/json"
	"fmt"
)

// ReactionType 回应类型，闭合枚举
type ReactionType string

const (
	Like  ReactionType = "LIKE"
	Love  ReactionType = "LOVE"
	Care  ReactionType = "CARE"
	Haha  ReactionType = "HAHA"
	Wow   ReactionType = "WOW"
	Sad   ReactionType = "SAD"
	Angry ReactionType = "ANGRY"
)

// ReactionTypes 按固定顺序列出所有类型
var ReactionTypes = [...]ReactionType{Like, Love, Care, Haha, Wow, Sad, Angry}

const reactionKinds = len(ReactionTypes)

// Index 返回类型在 ReactionTypes 中的下标，未知类型返回 -1
func (t ReactionType) Index() int {
	for i, rt := range ReactionTypes {
		if rt == t {
			return i
		}
	}
	return -1
}

func (t ReactionType) Valid() bool {
	return t.Index() >= 0
}

// ReactionCounts 按类型统计的回应数量
type ReactionCounts struct {
	ByType [reactionKinds]int
	Total  int
}

// Add 计入一个回应，未知类型忽略
func (c *ReactionCounts) Add(t ReactionType) bool {
	i := t.Index()
	if i < 0 {
		return false
	}
	c.ByType[i]++
	c.Total++
	return true
}

// Count 返回某类型的数量
func (c ReactionCounts) Count(t ReactionType) int {
	i := t.Index()
	if i < 0 {
		return 0
	}
	return c.ByType[i]
}

// MarshalJSON 输出 {"LIKE":1,...,"total":n}
func (c ReactionCounts) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, reactionKinds+1)
	for i, rt := range ReactionTypes {
		out[string(rt)] = c.ByType[i]
	}
	out["total"] = c.Total
	return json.Marshal(out)
}

func (c *ReactionCounts) UnmarshalJSON(data []byte) error {
	var in map[string]int
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("reaction counts: %w", err)
	}
	*c = ReactionCounts{}
	for i, rt := range ReactionTypes {
		c.ByType[i] = in[string(rt)]
	}
	c.Total = in["total"]
	return nil
}
