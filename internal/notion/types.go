package notion

// Notion databases.query 的请求与响应结构。
// 只映射本项目用到的属性类型。

type queryRequest struct {
	Filter      any    `json:"filter,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type page struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

type property struct {
	Type     string        `json:"type"`
	Title    []richText    `json:"title,omitempty"`
	RichText []richText    `json:"rich_text,omitempty"`
	Number   *float64      `json:"number,omitempty"`
	Checkbox bool          `json:"checkbox,omitempty"`
	URL      string        `json:"url,omitempty"`
	Relation []relationRef `json:"relation,omitempty"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type relationRef struct {
	ID string `json:"id"`
}

// checkboxFilter 构造 "checkbox equals" 过滤器
func checkboxFilter(prop string, value bool) any {
	return map[string]any{
		"property": prop,
		"checkbox": map[string]bool{"equals": value},
	}
}

func (p property) titleValue() string {
	if len(p.Title) == 0 {
		return ""
	}
	return p.Title[0].PlainText
}

func (p property) textValue() string {
	if len(p.RichText) == 0 {
		return ""
	}
	return p.RichText[0].PlainText
}

func (p property) numberValue() int {
	if p.Number == nil {
		return 0
	}
	return int(*p.Number)
}
